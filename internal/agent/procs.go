package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// process is a background command started by a worker. It outlives the
// worker and belongs to the Team Lead.
type process struct {
	Name      string
	AgentID   string
	Command   string
	PID       int
	LogPath   string
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// processTable tracks a project's background processes.
type processTable struct {
	mu    sync.Mutex
	procs map[string]*process
}

func newProcessTable() *processTable {
	return &processTable{procs: make(map[string]*process)}
}

// start launches cmd with output appended to logPath. A running process with
// the same name is stopped first.
func (t *processTable) start(name, agentID, command, logPath string, cmd *exec.Cmd) (*process, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	logf, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	cmd.Stdout = logf
	cmd.Stderr = logf
	t.stop(name)
	if err := cmd.Start(); err != nil {
		_ = logf.Close()
		return nil, err
	}
	p := &process{
		Name:      name,
		AgentID:   agentID,
		Command:   command,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		StartedAt: time.Now().UTC(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		_ = logf.Close()
		close(p.done)
	}()
	t.mu.Lock()
	t.procs[name] = p
	t.mu.Unlock()
	return p, nil
}

func (t *processTable) stop(name string) {
	t.mu.Lock()
	p, ok := t.procs[name]
	delete(t.procs, name)
	t.mu.Unlock()
	if ok {
		p.kill()
	}
}

func (p *process) kill() {
	if !p.running() {
		return
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
	}
}

// stopAll kills every process and returns how many were running.
func (t *processTable) stopAll() int {
	t.mu.Lock()
	procs := t.procs
	t.procs = make(map[string]*process)
	t.mu.Unlock()
	n := 0
	for _, p := range procs {
		if p.running() {
			n++
		}
		p.kill()
	}
	return n
}

func (t *processTable) list() []*process {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
