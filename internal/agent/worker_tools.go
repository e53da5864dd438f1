package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ankittk/orchestra/internal/sandbox"
	"github.com/ankittk/orchestra/internal/tool"
)

const (
	maxReadBytes    = 64 << 10
	maxOutputBytes  = 32 << 10
	maxListedFiles  = 500
	checkURLRetries = 5
)

// buildTools returns the worker tool set, narrowed to allowed when the
// template names its tools.
func (w *Worker) buildTools(allowed []string) *tool.Registry {
	all := []tool.Tool{
		tool.Tool{
			Name:        "read_file",
			Description: "Read a file from your workspace. Paths are relative to the workspace root.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{"path": {Type: tool.TypeString, Description: "file path"}},
				Required:   []string{"path"},
			},
			Execute: w.readFile,
		},
		tool.Tool{
			Name:        "write_file",
			Description: "Create or overwrite a file in your workspace. Parent directories are created.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"path":    {Type: tool.TypeString, Description: "file path"},
					"content": {Type: tool.TypeString, Description: "full file content"},
				},
				Required: []string{"path", "content"},
			},
			Execute: w.writeFile,
		},
		tool.Tool{
			Name:        "list_files",
			Description: "List files under a directory of your workspace (default: the root).",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{"path": {Type: tool.TypeString, Description: "directory"}},
			},
			Execute: w.listFiles,
		},
		tool.Tool{
			Name:        "run_command",
			Description: "Run a shell command in your workspace and return its output and exit code. Branch management git commands are not allowed.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{"command": {Type: tool.TypeString, Description: "shell command line"}},
				Required:   []string{"command"},
			},
			Execute: w.runCommand,
		},
		tool.Tool{
			Name:        "start_process",
			Description: "Start a long-running command (e.g. a server) in the background. Output goes to a log file.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"name":    {Type: tool.TypeString, Description: "short name, reused names replace the old process"},
					"command": {Type: tool.TypeString, Description: "shell command line"},
				},
				Required: []string{"name", "command"},
			},
			Execute: w.startProcess,
		},
		tool.Tool{
			Name:        "check_url",
			Description: "GET a URL, retrying while it is not yet reachable. Returns the status and the start of the body.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"url":      {Type: tool.TypeString, Description: "http or https URL"},
					"attempts": {Type: tool.TypeInteger, Description: "max attempts (default 5)"},
				},
				Required: []string{"url"},
			},
			Execute: w.checkURL,
		},
	}
	if len(allowed) == 0 {
		return tool.NewRegistry(all...)
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	reg := tool.NewRegistry()
	for _, t := range all {
		if keep[t.Name] {
			reg.Register(t)
		}
	}
	return reg
}

func (w *Worker) readFile(_ context.Context, args tool.Args) (string, error) {
	p, err := w.workspace.Resolve(args.String("path"))
	if err != nil {
		return "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n... (truncated)", nil
	}
	return string(data), nil
}

func (w *Worker) writeFile(_ context.Context, args tool.Args) (string, error) {
	p, err := w.workspace.ResolveWrite(args.String("path"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	content := args.String("content")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s.", len(content), args.String("path")), nil
}

func (w *Worker) listFiles(_ context.Context, args tool.Args) (string, error) {
	root, err := w.workspace.Resolve(args.String("path"))
	if err != nil {
		return "", err
	}
	base := w.workspace.Root
	if abs, err := w.workspace.Resolve(""); err == nil {
		base = abs
	}
	var files []string
	truncated := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxListedFiles {
			truncated = true
			return filepath.SkipAll
		}
		rel, _ := filepath.Rel(base, p)
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "(no files)", nil
	}
	out := strings.Join(files, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (stopped after %d files)", maxListedFiles)
	}
	return out, nil
}

func (w *Worker) sandboxHome() string {
	if !w.deps.Sandbox {
		return ""
	}
	return w.deps.Home
}

func (w *Worker) runCommand(ctx context.Context, args tool.Args) (string, error) {
	line := args.String("command")
	if err := sandbox.CheckCommand(line); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, w.deps.Limits.CommandTimeout)
	defer cancel()
	cmd := sandbox.ShellCommand(ctx, w.sandboxHome(), w.workspace.Root, line)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := out.String()
	if len(text) > maxOutputBytes {
		text = "... (truncated)\n" + text[len(text)-maxOutputBytes:]
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("%s\n[timed out after %s]", text, w.deps.Limits.CommandTimeout), nil
	}
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("run command: %w", err)
		}
		code = exitErr.ExitCode()
	}
	return fmt.Sprintf("%s\n[exit code %d]", strings.TrimRight(text, "\n"), code), nil
}

func (w *Worker) startProcess(_ context.Context, args tool.Args) (string, error) {
	line := args.String("command")
	if err := sandbox.CheckCommand(line); err != nil {
		return "", err
	}
	name := args.String("name")
	logPath := filepath.Join(w.logsDir, fmt.Sprintf("%s-%s.log", w.ID(), safeFileName(name)))
	// Detached from the tool call: the process outlives the worker.
	cmd := sandbox.ShellCommand(context.Background(), w.sandboxHome(), w.workspace.Root, line)
	p, err := w.procs.start(name, w.ID(), line, logPath, cmd)
	if err != nil {
		return "", fmt.Errorf("start process: %w", err)
	}
	w.log.Info().Str("process", name).Int("pid", p.PID).Msg("background process started")
	return fmt.Sprintf("Started %q (pid %d). Logs: %s", name, p.PID, logPath), nil
}

func (w *Worker) checkURL(ctx context.Context, args tool.Args) (string, error) {
	url := args.String("url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	attempts := int(args.Int("attempts"))
	if attempts <= 0 {
		attempts = checkURLRetries
	}
	client := &http.Client{Timeout: 10 * time.Second}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, body), nil
	}
	return fmt.Sprintf("unreachable after %d attempts: %v", attempts, lastErr), nil
}

func safeFileName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, s)
	if s == "" {
		return "process"
	}
	return s
}
