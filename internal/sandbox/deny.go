package sandbox

import (
	"fmt"
	"strings"
)

// shellDenyList holds substrings that must not appear in a worker's command line.
var shellDenyList = []string{
	"sqlite3",
	"DROP TABLE",
	"DELETE FROM",
	"rm -rf .git",
	"chmod 777",
	"| sh",
	"| bash",
	"eval $(",
	"> /dev/sd",
	"mkfs.",
	":(){ :|:& };:",
}

// gitDenyList holds git subcommands workers must not run. Branch topology is
// owned by the Team Lead's worktree manager.
var gitDenyList = []string{
	"rebase",
	"merge",
	"pull",
	"push",
	"fetch",
	"checkout",
	"switch",
	"reset --hard",
	"worktree",
	"branch ",
	"branch -",
	"remote",
	"filter-branch",
	"reflog expire",
}

// BlockedShellCommand reports whether cmdLine contains a denied substring (case-insensitive).
func BlockedShellCommand(cmdLine string) bool {
	return deniedShell(cmdLine) != ""
}

func deniedShell(cmdLine string) string {
	lower := strings.ToLower(strings.TrimSpace(cmdLine))
	for _, deny := range shellDenyList {
		if strings.Contains(lower, strings.ToLower(deny)) {
			return deny
		}
	}
	return ""
}

// BlockedGitCommand reports whether git args (without the leading "git") are denied.
func BlockedGitCommand(args []string) bool {
	return deniedGit(strings.Join(args, " ")) != ""
}

func deniedGit(sub string) string {
	lower := strings.ToLower(strings.TrimSpace(sub))
	for _, dis := range gitDenyList {
		name := "git " + strings.Fields(dis)[0]
		if strings.HasSuffix(dis, " ") || strings.HasSuffix(dis, "-") {
			if strings.HasPrefix(lower, dis) {
				return name
			}
			continue
		}
		if lower == dis || strings.HasPrefix(lower, dis+" ") {
			return name
		}
	}
	return ""
}

// CheckCommand returns an error naming the rule a worker command line breaks.
// Every git invocation in a compound line (&&, ||, ;, |) is checked.
func CheckCommand(cmdLine string) error {
	if strings.TrimSpace(cmdLine) == "" {
		return fmt.Errorf("empty command")
	}
	if d := deniedShell(cmdLine); d != "" {
		return fmt.Errorf("command blocked: contains %q", d)
	}
	for _, seg := range splitSegments(cmdLine) {
		fields := strings.Fields(seg)
		for i, f := range fields {
			if f != "git" {
				continue
			}
			if d := deniedGit(strings.Join(fields[i+1:], " ")); d != "" {
				return fmt.Errorf("command blocked: %s is managed by the team lead", d)
			}
			break
		}
	}
	return nil
}

func splitSegments(cmdLine string) []string {
	return strings.FieldsFunc(cmdLine, func(r rune) bool {
		return r == ';' || r == '&' || r == '|' || r == '\n'
	})
}
