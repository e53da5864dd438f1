package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/sandbox"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies and settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			var problems []string
			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}
			settings, err := config.Load()
			if err != nil {
				problems = append(problems, err.Error())
			} else {
				if err := settings.CheckProvider(); err != nil {
					problems = append(problems, err.Error())
				}
				if settings.Sandbox && !sandbox.BubblewrapAvailable() {
					_, _ = fmt.Fprintln(out, "warning: ORCHESTRA_SANDBOX is set but bubblewrap is unavailable; commands run unsandboxed")
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}
			_, _ = fmt.Fprintf(out, "ok (home %s)\n", home)
			return nil
		},
	}
	return cmd
}
