package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/pkg/models"
)

func newTaskCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage a project's board tasks",
	}
	cmd.PersistentFlags().String("project", "", "Project id")
	cmd.AddCommand(newTaskListCmd(g))
	cmd.AddCommand(newTaskAddCmd(g))
	cmd.AddCommand(newTaskMoveCmd(g))
	cmd.AddCommand(newTaskDeleteCmd(g))
	return cmd
}

func projectFlag(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("project")
	if p == "" {
		return "", errors.New("--project is required")
	}
	return p, nil
}

func printTask(cmd *cobra.Command, t models.Task) {
	line := fmt.Sprintf("- #%d [%s] %s", t.ID, t.Column, t.Title)
	if t.Assignee != "" {
		line += " (" + t.Assignee + ")"
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
}

func newTaskListCmd(g *globals) *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.ListTasks(cmd.Context(), project, models.Column(column))
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				printTask(cmd, t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Only this column (backlog, in_progress, done)")
	return cmd
}

func newTaskAddCmd(g *globals) *cobra.Command {
	var req models.CreateTaskRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			if req.Title == "" {
				return errors.New("--title is required")
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			t, err := c.CreateTask(cmd.Context(), project, req)
			if err != nil {
				return err
			}
			printTask(cmd, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Task title")
	cmd.Flags().StringVar(&req.Description, "description", "", "Task description")
	cmd.Flags().StringSliceVar(&req.Labels, "label", nil, "Label (repeatable)")
	return cmd
}

func newTaskMoveCmd(g *globals) *cobra.Command {
	var (
		id       int64
		column   string
		position int
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a task to another column",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			if id <= 0 || column == "" {
				return errors.New("--id and --column are required")
			}
			col := models.Column(column)
			patch := models.UpdateTaskRequest{Column: &col}
			if cmd.Flags().Changed("position") {
				patch.Position = &position
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			t, err := c.UpdateTask(cmd.Context(), project, id, patch)
			if err != nil {
				return err
			}
			printTask(cmd, t)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Task id")
	cmd.Flags().StringVar(&column, "column", "", "Target column")
	cmd.Flags().IntVar(&position, "position", 0, "Position in the target column (default: end)")
	return cmd
}

func newTaskDeleteCmd(g *globals) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			if id <= 0 {
				return errors.New("--id is required")
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteTask(cmd.Context(), project, id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted task #%d\n", id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Task id")
	return cmd
}
