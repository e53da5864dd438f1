// Package registry holds the worker templates a Team Lead can spawn from:
// builtins plus YAML or TOML files in a directory.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate is used when spawn_worker names no template.
const DefaultTemplate = "generalist"

// Template describes a kind of worker.
type Template struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Description  string   `json:"description" yaml:"description" toml:"description"`
	Capabilities []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
}

// Validate checks required fields.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	if strings.TrimSpace(t.SystemPrompt) == "" {
		return fmt.Errorf("template %s: system_prompt is required", t.ID)
	}
	return nil
}

// Matches reports whether the template offers capability (case-insensitive
// substring of a capability, the id, or the name).
func (t Template) Matches(capability string) bool {
	q := strings.ToLower(strings.TrimSpace(capability))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.ID), q) || strings.Contains(strings.ToLower(t.Name), q) {
		return true
	}
	for _, c := range t.Capabilities {
		if strings.Contains(strings.ToLower(c), q) {
			return true
		}
	}
	return false
}

// Registry is a read-mostly template catalog.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// New returns a registry holding the builtin templates.
func New() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range Builtins() {
		r.templates[t.ID] = t
	}
	return r
}

// Add registers or replaces a template.
func (r *Registry) Add(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get returns the template with id.
func (r *Registry) Get(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[strings.TrimSpace(id)]
	return t, ok
}

// Search returns templates offering capability, sorted by id. An empty capability lists all.
func (r *Registry) Search(capability string) []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Template
	for _, t := range r.templates {
		if t.Matches(capability) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir adds every *.yaml, *.yml and *.toml template in dir. A missing dir is not an error.
// Files may hold one template or a list under "templates".
func (r *Registry) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ts, err := LoadFile(path)
		if err != nil {
			return n, err
		}
		for _, t := range ts {
			if err := r.Add(t); err != nil {
				return n, fmt.Errorf("%s: %w", path, err)
			}
			n++
		}
	}
	return n, nil
}

type templateFile struct {
	Templates []Template `yaml:"templates" toml:"templates"`
}

// LoadFile parses a YAML or TOML template file. Unknown extensions yield nothing.
func LoadFile(path string) ([]Template, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".toml" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file templateFile
	var single Template
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(file.Templates) == 0 {
			if err := toml.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(file.Templates) == 0 {
			if err := yaml.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if len(file.Templates) > 0 {
		return file.Templates, nil
	}
	if single.ID == "" {
		single.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return []Template{single}, nil
}
