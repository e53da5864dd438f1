package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/tool"
	"github.com/ankittk/orchestra/pkg/models"
)

func (c *COO) buildTools() *tool.Registry {
	projectID := tool.Param{Type: tool.TypeString, Description: "project id"}
	return tool.NewRegistry(
		tool.Tool{
			Name:        "create_project",
			Description: "Create a project. Its Team Lead starts on the first delegated directive.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"name":        {Type: tool.TypeString},
					"description": {Type: tool.TypeString},
					"charter":     {Type: tool.TypeString, Description: "goals and constraints the Team Lead must follow"},
				},
				Required: []string{"name"},
			},
			Execute: c.createProject,
		},
		tool.Tool{
			Name:        "list_projects",
			Description: "List projects with their status.",
			Execute:     c.listProjects,
		},
		tool.Tool{
			Name:        "delegate_to_team_lead",
			Description: "Send a directive to a project's Team Lead.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"project_id": projectID,
					"directive":  {Type: tool.TypeString, Description: "what the team should achieve"},
				},
				Required: []string{"project_id", "directive"},
			},
			Execute: c.delegateTool,
		},
		tool.Tool{
			Name:        "request_project_status",
			Description: "Ask a project's Team Lead for its status. A busy Team Lead may not answer in time.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"project_id": projectID}, Required: []string{"project_id"}},
			Execute:     c.requestProjectStatus,
		},
		tool.Tool{
			Name:        "delete_project",
			Description: "Stop a project's team and delete its board, branches and files.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"project_id": projectID}, Required: []string{"project_id"}},
			Execute:     c.deleteProjectTool,
		},
		tool.Tool{
			Name:        "report_to_user",
			Description: "Publish a report to the user.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"message":    {Type: tool.TypeString},
					"project_id": projectID,
				},
				Required: []string{"message"},
			},
			Execute: c.reportToUser,
		},
	)
}

func (c *COO) createProject(ctx context.Context, args tool.Args) (string, error) {
	p, err := c.CreateProject(ctx, models.CreateProjectRequest{
		Name:        args.String("name"),
		Description: args.String("description"),
		Charter:     args.String("charter"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created project %s %q. Delegate work to it with delegate_to_team_lead.", p.ID, p.Name), nil
}

func (c *COO) listProjects(ctx context.Context, _ tool.Args) (string, error) {
	return c.overview(ctx), nil
}

func (c *COO) delegateTool(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("project_id")
	if err := c.delegate(ctx, id, args.String("directive")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Directive delivered to %s.", TeamLeadID(id)), nil
}

func (c *COO) requestProjectStatus(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("project_id")
	t, err := c.lead(ctx, id)
	if err != nil {
		return "", err
	}
	reply, ok := c.deps.Bus.Request(ctx, models.Message{
		From:           c.ID(),
		To:             t.ID(),
		Type:           models.MessageStatusRequest,
		ProjectID:      id,
		ConversationID: models.ProjectConversationID(id),
	}, c.deps.Limits.StatusTimeout)
	if !ok {
		return bus.NoResponse, nil
	}
	return reply.Content, nil
}

func (c *COO) deleteProjectTool(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("project_id")
	if err := c.DeleteProject(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted project %s.", id), nil
}

func (c *COO) reportToUser(ctx context.Context, args tool.Args) (string, error) {
	msg := strings.TrimSpace(args.String("message"))
	c.broadcast(ctx, models.MessageReport, args.String("project_id"), msg, map[string]any{"success": true})
	return "Reported.", nil
}
