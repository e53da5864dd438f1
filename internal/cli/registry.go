package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/registry"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect worker templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List worker templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTemplates(cmd, "")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "search <capability>",
		Short: "Find templates offering a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTemplates(cmd, args[0])
		},
	})
	return cmd
}

func printTemplates(cmd *cobra.Command, capability string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	dir := settings.RegistryDir
	if dir == "" {
		dir = filepath.Join(config.MustHomeFrom(cmd.Context()), "registry")
	}
	reg := registry.New()
	if _, err := reg.LoadDir(dir); err != nil {
		return err
	}
	found := reg.Search(capability)
	if len(found) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No templates.")
		return nil
	}
	for _, t := range found {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s: %s [%s]\n", t.ID, t.Name, strings.Join(t.Capabilities, ", "))
	}
	return nil
}
