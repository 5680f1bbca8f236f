package agent

import (
	"fmt"
	"strings"
)

// SystemPromptConfig holds the inputs for fork system prompt construction.
type SystemPromptConfig struct {
	ForkID     int
	NumForks   int
	Workspace  string // container- or host-side workspace path shown to the model
	ToolNames  []string
	MaxTurns   int
	ExtraNotes string // appended verbatim, e.g. per-fork variation instructions
}

// coreToolSummaries maps tool names to one-line descriptions shown in the
// ## Tooling section of the system prompt.
var coreToolSummaries = map[string]string{
	"Bash":  "Run shell commands in the workspace",
	"Read":  "Read file contents",
	"Write": "Create or overwrite files",
	"Edit":  "Edit a file by replacing exact text matches",
	"Glob":  "Find files matching a glob pattern",
	"Grep":  "Search file contents with a regular expression",
}

// BuildSystemPrompt constructs the system prompt for one fork session.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var lines []string

	lines = append(lines, "You are an autonomous coding agent working on a task inside an isolated workspace.")
	lines = append(lines, "")

	if cfg.NumForks > 1 {
		lines = append(lines,
			fmt.Sprintf("You are fork %d of %d running the same task in parallel. Work independently; other forks cannot see your workspace.", cfg.ForkID, cfg.NumForks),
			"")
	}

	lines = append(lines, "## Workspace")
	lines = append(lines, "")
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	lines = append(lines,
		fmt.Sprintf("Your workspace root is %s. All file paths are relative to it.", workspace),
		"You cannot access files outside the workspace; attempts are rejected by a security policy.",
		"")

	if len(cfg.ToolNames) > 0 {
		lines = append(lines, "## Tooling", "")
		for _, name := range cfg.ToolNames {
			if summary, ok := coreToolSummaries[name]; ok {
				lines = append(lines, fmt.Sprintf("- %s: %s", name, summary))
			} else {
				lines = append(lines, "- "+name)
			}
		}
		lines = append(lines, "")
	}

	lines = append(lines, "## Ground rules", "")
	lines = append(lines,
		"- Prefer Edit over rewriting whole files.",
		"- Verify your work with Bash before finishing.",
		"- When done, end your turn with a short summary of what you did.")
	if cfg.MaxTurns > 0 {
		lines = append(lines, fmt.Sprintf("- You have at most %d turns; budget them.", cfg.MaxTurns))
	}

	if cfg.ExtraNotes != "" {
		lines = append(lines, "", cfg.ExtraNotes)
	}

	return strings.Join(lines, "\n")
}
