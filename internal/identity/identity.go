// Package identity resolves the author recorded on commits made for agents.
package identity

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default is used when neither an identity file nor git config provides one.
var Default = Human{Name: "orchestra", Email: "orchestra@localhost", Source: "default"}

// Human holds a commit identity (name, email).
type Human struct {
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Source string `yaml:"source,omitempty"` // e.g. "git", "file", "default"
}

// Complete reports whether both name and email are set.
func (h Human) Complete() bool {
	return strings.TrimSpace(h.Name) != "" && strings.TrimSpace(h.Email) != ""
}

// DetectFromGit runs `git config user.name` and `git config user.email` (in repoDir, or global if repoDir is empty)
// and returns a Human. If either command fails, returns empty name/email for that field.
func DetectFromGit(repoDir string) (Human, error) {
	var h Human
	h.Source = "git"
	name, err := gitConfig(repoDir, "user.name")
	if err == nil {
		h.Name = strings.TrimSpace(name)
	}
	email, err := gitConfig(repoDir, "user.email")
	if err == nil {
		h.Email = strings.TrimSpace(email)
	}
	return h, nil
}

func gitConfig(repoDir, key string) (string, error) {
	cmd := exec.Command("git", "config", "--get", key)
	if repoDir != "" {
		cmd.Dir = repoDir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Path returns the identity override file: <home>/identity.yaml.
func Path(home string) string {
	return filepath.Join(home, "identity.yaml")
}

// Load reads <home>/identity.yaml. A missing file returns (nil, nil).
func Load(home string) (*Human, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var h Human
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	h.Source = "file"
	return &h, nil
}

// Save writes h to <home>/identity.yaml.
func Save(home string, h Human) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// Resolve picks the commit identity: the home override file, then git config
// (repoDir or global), then Default.
func Resolve(home, repoDir string) Human {
	if home != "" {
		if h, err := Load(home); err == nil && h != nil && h.Complete() {
			return *h
		}
	}
	if h, err := DetectFromGit(repoDir); err == nil && h.Complete() {
		return h
	}
	return Default
}
