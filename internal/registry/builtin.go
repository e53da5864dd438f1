package registry

// Builtins returns the templates available without any configuration.
func Builtins() []Template {
	return []Template{
		{
			ID:           "developer",
			Name:         "Developer",
			Description:  "Writes and changes code in an isolated worktree.",
			Capabilities: []string{"code", "implementation", "refactoring", "bugfix"},
			SystemPrompt: "You are a software developer working on a single task in your own git worktree. " +
				"Read the existing code, make focused changes, and run the project's build or tests when they exist. " +
				"Your changes are committed and merged for you. Finish with a short summary of what you changed.",
			Tools: []string{"read_file", "write_file", "list_files", "run_command"},
		},
		{
			ID:           "tester",
			Name:         "Tester",
			Description:  "Verifies the integrated result on the main repository.",
			Capabilities: []string{"testing", "verification", "qa"},
			SystemPrompt: "You are a tester. Verify that the project in your workspace builds and behaves as described. " +
				"Run the test suite and exercise the main paths. Do not rewrite features. " +
				"Finish by stating clearly whether verification PASSED or FAILED and why.",
			Tools: []string{"read_file", "list_files", "run_command", "write_file"},
		},
		{
			ID:           "deployer",
			Name:         "Deployer",
			Description:  "Starts the application as a background process and checks it is reachable.",
			Capabilities: []string{"deployment", "operations", "run"},
			SystemPrompt: "You are a deployer. Start the application in your workspace as a persistent background " +
				"process (start_process) and confirm it is reachable (check_url). " +
				"Finish by stating the URL and whether deployment SUCCEEDED or FAILED.",
			Tools: []string{"read_file", "list_files", "run_command", "start_process", "check_url"},
		},
		{
			ID:           DefaultTemplate,
			Name:         "Generalist",
			Description:  "Handles any task with the full worker tool set.",
			Capabilities: []string{"general", "docs", "research", "code"},
			SystemPrompt: "You are a capable generalist working on one task inside your workspace. " +
				"Use the tools to inspect and change files and to run commands. " +
				"Finish with a short summary of the outcome.",
		},
	}
}
