// Package daemon runs the orchestra server: agents, HTTP API and gRPC health,
// with pid, addr and lock files under the home's protected directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ankittk/orchestra/internal/config"
)

var errNotRunning = errors.New("orchestra is not running")

// StartForeground serves until ctx is canceled or a server fails.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Settings.HTTPAddr == "" {
		opts.Settings.HTTPAddr = "127.0.0.1:3549"
	}
	log := opts.Log

	if err := os.MkdirAll(config.ProtectedDir(opts.Home), 0o755); err != nil {
		return err
	}
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.Settings.PprofAddr, log)

	// Listen before writing the addr file so a busy port fails fast.
	httpLn, err := net.Listen("tcp", opts.Settings.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.Settings.HTTPAddr, err)
	}
	var grpcLn net.Listener
	if opts.Settings.GRPCAddr != "" {
		if grpcLn, err = net.Listen("tcp", opts.Settings.GRPCAddr); err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen %s: %w", opts.Settings.GRPCAddr, err)
		}
	}

	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(httpLn.Addr().String()+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	rt, err := newRuntime(ctx, opts)
	if err != nil {
		_ = httpLn.Close()
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		rt.close(closeCtx)
	}()

	log.Info().Str("addr", httpLn.Addr().String()).Str("home", opts.Home).Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rt.app.Server.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcLn != nil {
		log.Info().Str("addr", grpcLn.Addr().String()).Msg("grpc health serving")
		g.Go(func() error { return serveHealth(gctx, grpcLn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return rt.app.Server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return ctx.Err()
	}
	return err
}

// StartBackground re-executes the binary as a detached `serve` process and
// waits briefly for its pid file.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(config.ProtectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("orchestra already running (pid %d)", st.PID)
	}

	stderr, err := os.OpenFile(logPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for the child's lifetime.

	args := []string{"serve", "--foreground", "--home", opts.Home}
	if opts.Settings.HTTPAddr != "" {
		args = append(args, "--listen", opts.Settings.HTTPAddr)
	}
	if opts.Settings.GRPCAddr != "" {
		args = append(args, "--grpc-addr", opts.Settings.GRPCAddr)
	}
	if opts.Dev {
		args = append(args, "--dev")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

// Stop sends SIGTERM and waits up to 15s before killing. It reports whether a
// daemon was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = proc.Kill()
	return true, nil
}

// Status reads the pid and addr files. A stale pid file is removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}
	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}
