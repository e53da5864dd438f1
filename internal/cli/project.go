package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/pkg/models"
)

func newProjectCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd(g))
	cmd.AddCommand(newProjectListCmd(g))
	cmd.AddCommand(newProjectShowCmd(g))
	cmd.AddCommand(newProjectDeleteCmd(g))
	return cmd
}

func newProjectCreateCmd(g *globals) *cobra.Command {
	var req models.CreateProjectRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Name == "" {
				return errors.New("--name is required")
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			p, err := c.CreateProject(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Project name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Short description")
	cmd.Flags().StringVar(&req.Charter, "charter", "", "Charter given to the project's team lead")
	return cmd
}

func newProjectListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s (%s)\n", p.ID, p.Name, p.Status)
			}
			return nil
		},
	}
}

func newProjectShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its board counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			d, err := c.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s %s (%s)\n", d.Project.ID, d.Project.Name, d.Project.Status)
			if d.Project.Description != "" {
				_, _ = fmt.Fprintln(out, d.Project.Description)
			}
			_, _ = fmt.Fprintln(out, d.Board.CountsLine())
			return nil
		},
	}
}

func newProjectDeleteCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Stop a project's agents and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !yes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Delete project %s and its worktrees? Type the project id to confirm:\n", id)
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if strings.TrimSpace(line) != id {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}
