package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dinbutler/obox/internal/sandbox"
)

// BashTool executes shell commands inside the fork's sandbox.
type BashTool struct {
	client   sandbox.Client
	restrict bool
}

// NewBashTool creates a bash tool bound to a sandbox client.
func NewBashTool(client sandbox.Client, restrict bool) *BashTool {
	return &BashTool{client: client, restrict: restrict}
}

func (t *BashTool) Name() string { return "Bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command in the workspace and return its output"
}

func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory, relative to the workspace root",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	workdir := ""
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := resolvePath(wd, t.client.Root(), t.restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}
		workdir = rootRelative(resolved, t.client.Root())
	}

	res, err := t.client.Exec(ctx, command, workdir)
	if err != nil {
		return ErrorResult(err.Error())
	}

	output := res.Stdout
	if res.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + res.Stderr
	}
	if res.ExitCode != 0 {
		if output != "" {
			output += "\n"
		}
		output += fmt.Sprintf("Exit code: %d", res.ExitCode)
		return ErrorResult(output)
	}
	if output == "" {
		output = "(command completed with no output)"
	}
	return TextResult(output)
}

// rootRelative maps a resolved host path back to a root-relative path for
// the sandbox client. Paths outside the root (restrict=false only) pass
// through absolute.
func rootRelative(resolved, root string) string {
	for _, base := range candidateRoots(root) {
		rel, err := filepath.Rel(base, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return rel
	}
	return resolved
}

func candidateRoots(root string) []string {
	roots := []string{root}
	if real, err := filepath.EvalSymlinks(root); err == nil && real != root {
		roots = append(roots, real)
	}
	return roots
}
