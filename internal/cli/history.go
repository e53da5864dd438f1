package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/pkg/models"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		f       models.MessageFilter
		msgType string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show bus message history",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Type = models.MessageType(msgType)
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := c.Messages(cmd.Context(), f)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				to := m.To
				if to == "" {
					to = "*"
				}
				content := strings.ReplaceAll(m.Content, "\n", " ")
				if len(content) > 120 {
					content = content[:117] + "..."
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s [%s] %s\n",
					m.Timestamp.Local().Format(time.TimeOnly), m.From, to, m.Type, content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "Project id")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "Agent id (sender or recipient)")
	cmd.Flags().StringVar(&f.ConversationID, "conversation", "", "Conversation id")
	cmd.Flags().StringVar(&msgType, "type", "", "Message type")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum messages")
	return cmd
}
