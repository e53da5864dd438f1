package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// JournalEntry is one worker outcome recorded by a Team Lead.
type JournalEntry struct {
	AgentID   string
	TaskID    int64
	TaskTitle string
	Outcome   string // "success" or "failure"
	Summary   string
	CreatedAt time.Time
}

// Journal manages a project's journal.md file: append entries and read a tail.
type Journal struct {
	ProjectDir string

	mu sync.Mutex
}

// Append adds an entry to the journal, creating the project directory and file as needed.
func (j *Journal) Append(ctx context.Context, entry JournalEntry) error {
	if err := os.MkdirAll(j.ProjectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(JournalPath(j.ProjectDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(formatJournalBlock(entry)); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func formatJournalBlock(e JournalEntry) string {
	var b strings.Builder
	b.WriteString("\n---\n\n## ")
	b.WriteString(e.CreatedAt.Format("2006-01-02 15:04"))
	if e.TaskTitle != "" {
		b.WriteString(" - ")
		b.WriteString(e.TaskTitle)
	}
	b.WriteString("\n\n")
	if e.TaskID > 0 {
		fmt.Fprintf(&b, "- **Task:** %d\n", e.TaskID)
	}
	if e.AgentID != "" {
		fmt.Fprintf(&b, "- **Worker:** %s\n", e.AgentID)
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, "- **Outcome:** %s\n", e.Outcome)
	}
	if s := strings.TrimSpace(e.Summary); s != "" {
		fmt.Fprintf(&b, "- **Summary:** %s\n", oneLine(s, 600))
	}
	b.WriteString("\n")
	return b.String()
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Read returns the last limitBytes of the journal (all of it when limitBytes <= 0).
// A missing journal reads as empty.
func (j *Journal) Read(ctx context.Context, limitBytes int) (string, error) {
	data, err := os.ReadFile(JournalPath(j.ProjectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	s := string(data)
	if limitBytes <= 0 || len(s) <= limitBytes {
		return s, nil
	}
	return s[len(s)-limitBytes:], nil
}

// Summary returns the journal tail for injecting into a Team Lead prompt.
func (j *Journal) Summary(ctx context.Context, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 4000
	}
	s, err := j.Read(ctx, maxLen)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "(no journal entries yet)", nil
	}
	return s, nil
}
