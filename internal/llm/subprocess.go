package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ankittk/orchestra/internal/sandbox"
)

// Subprocess runs an external model adapter per turn: the JSON Request on
// stdin, a JSON Response as the last JSON line on stdout. Non-JSON stdout lines
// are treated as plain text when no JSON line is found.
// With SandboxHome set (and bubblewrap available on Linux) the command runs
// inside a bubblewrap sandbox where only SandboxWriteDir is writable.
type Subprocess struct {
	Command         string
	Args            []string
	Timeout         time.Duration
	SandboxHome     string
	SandboxWriteDir string
}

// Invoke runs the command once.
func (s *Subprocess) Invoke(ctx context.Context, req Request) (Response, error) {
	if s.Command == "" {
		return Response{}, errors.New("subprocess command is required")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	var cmd *exec.Cmd
	if s.SandboxHome != "" {
		cmd = sandbox.WrapCommand(ctx, s.SandboxHome, s.SandboxWriteDir, s.Command, s.Args)
	} else {
		cmd = exec.CommandContext(ctx, s.Command, s.Args...)
	}
	in, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	cmd.Stdin = bytes.NewReader(append(in, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("llm subprocess: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSubprocessOutput(stdout.String()), nil
}

func parseSubprocessOutput(out string) Response {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var text []string
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var r Response
		if err := json.Unmarshal([]byte(line), &r); err == nil {
			return r
		}
	}
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			text = append(text, l)
		}
	}
	return Response{Text: strings.Join(text, "\n")}
}
