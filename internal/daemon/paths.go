package daemon

import (
	"path/filepath"

	"github.com/ankittk/orchestra/internal/config"
)

func pidPath(home string) string {
	return filepath.Join(config.ProtectedDir(home), "daemon.pid")
}

func lockPath(home string) string {
	return filepath.Join(config.ProtectedDir(home), "daemon.lock")
}

func addrPath(home string) string {
	return filepath.Join(config.ProtectedDir(home), "daemon.addr")
}

func logPath(home string) string {
	return filepath.Join(config.ProtectedDir(home), "daemon.log")
}
