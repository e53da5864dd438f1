// Package notify mirrors final project reports to a Slack incoming webhook.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/pkg/models"
)

const postTimeout = 10 * time.Second

// Slack posts broadcast reports to a webhook. Posting happens off the bus
// goroutine; Close waits for in-flight posts.
type Slack struct {
	url string
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSlack returns a notifier for webhookURL.
func NewSlack(webhookURL string, log zerolog.Logger) *Slack {
	return &Slack{url: webhookURL, log: log.With().Str("component", "notify.slack").Logger()}
}

// Attach subscribes to the bus and returns a func that detaches.
func (s *Slack) Attach(b *bus.Bus) func() {
	sub := b.OnBroadcast(func(ctx context.Context, msg models.Message) {
		if msg.Type != models.MessageReport {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.log.Debug().Str("message_id", msg.ID).Msg("notifier closed; report not posted")
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			if err := s.Post(context.WithoutCancel(ctx), msg); err != nil {
				s.log.Warn().Err(err).Str("project_id", msg.ProjectID).Msg("slack post failed")
			}
		}()
	})
	return func() { b.OffBroadcast(sub) }
}

// Post sends one report.
func (s *Slack) Post(ctx context.Context, msg models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	if err := slack.PostWebhookContext(ctx, s.url, reportMessage(msg)); err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	s.log.Debug().Str("message_id", msg.ID).Msg("report posted")
	return nil
}

// Close stops accepting reports and waits for posts that are still in flight.
func (s *Slack) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func reportMessage(msg models.Message) *slack.WebhookMessage {
	status := "completed"
	if ok, _ := msg.Metadata["success"].(bool); !ok {
		status = "needs attention"
	}
	title := "Project report: " + status
	footer := fmt.Sprintf("project `%s` | %s", msg.ProjectID, msg.Timestamp.UTC().Format(time.RFC3339))
	if msg.ProjectID == "" {
		footer = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return &slack.WebhookMessage{
		Text: title + "\n" + msg.Content,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Content, false, false), nil, nil),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)),
		}},
	}
}
