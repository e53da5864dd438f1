package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
)

const apiKeyEnv = config.EnvPrefix + "_API_KEY"

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the key protecting the daemon API",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

func newApikeyGenerateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key, optionally storing it in an env file",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(b)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated API key:")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)

			if envFile == "" {
				_, _ = fmt.Fprintf(out, "Daemon: export %s=%s, or keep it in a file for `orchestra serve --env-file`.\n", apiKeyEnv, key)
				_, _ = fmt.Fprintln(out, "Clients: send header X-API-Key or query ?api_key=, or pass --api-key to the CLI.")
				return nil
			}
			if err := setEnvLine(envFile, apiKeyEnv, key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Stored %s in %s\n", apiKeyEnv, envFile)
			_, _ = fmt.Fprintln(out, "Start the daemon with: orchestra serve --env-file "+envFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Write the key to this env file, replacing any previous value")
	return cmd
}

// setEnvLine sets KEY=value in path, replacing an existing KEY line.
func setEnvLine(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if l == "" || strings.HasPrefix(strings.TrimSpace(l), key+"=") {
			continue
		}
		lines = append(lines, l)
	}
	lines = append(lines, key+"="+value)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
