package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dinbutler/obox/internal/sandbox"
)

// ReadTool reads file contents from the fork's sandbox.
type ReadTool struct {
	client   sandbox.Client
	restrict bool
	denied   []string
}

func NewReadTool(client sandbox.Client, restrict bool, denied []string) *ReadTool {
	return &ReadTool{client: client, restrict: restrict, denied: denied}
}

func (t *ReadTool) Name() string { return "Read" }
func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Supports optional line offset and limit for large files."
}

func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Line number to start reading from (1-based)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}

	rel, result := t.resolveFileArg(path)
	if result != nil {
		return result
	}

	content, err := t.client.ReadFile(ctx, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(fmt.Sprintf("File not found: %s", path))
		}
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	offset := intArg(args, "offset")
	limit := intArg(args, "limit")
	if offset > 0 || limit > 0 {
		content = sliceLines(content, offset, limit)
	}
	return TextResult(content)
}

func (t *ReadTool) resolveFileArg(path string) (string, *Result) {
	return resolveFileArg(path, t.client.Root(), t.restrict, t.denied)
}

// WriteTool creates or overwrites files in the fork's sandbox.
type WriteTool struct {
	client   sandbox.Client
	restrict bool
	denied   []string
}

func NewWriteTool(client sandbox.Client, restrict bool, denied []string) *WriteTool {
	return &WriteTool{client: client, restrict: restrict, denied: denied}
}

func (t *WriteTool) Name() string { return "Write" }
func (t *WriteTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if needed"
}

func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	rel, result := resolveFileArg(path, t.client.Root(), t.restrict, t.denied)
	if result != nil {
		return result
	}

	if err := t.client.WriteFile(ctx, rel, content); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return TextResult(fmt.Sprintf("File written: %s (%d bytes)", path, len(content)))
}

// EditTool performs search-and-replace edits on files.
type EditTool struct {
	client   sandbox.Client
	restrict bool
	denied   []string
}

func NewEditTool(client sandbox.Client, restrict bool, denied []string) *EditTool {
	return &EditTool{client: client, restrict: restrict, denied: denied}
}

func (t *EditTool) Name() string { return "Edit" }
func (t *EditTool) Description() string {
	return "Edit a file by replacing exact text matches. Use old_string/new_string for precise edits without rewriting the entire file."
}

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to find (must match uniquely unless replace_all is true)",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace all occurrences (default: false, requires unique match)",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if path == "" {
		return ErrorResult("file_path is required")
	}
	if oldStr == "" {
		return ErrorResult("old_string is required")
	}
	if oldStr == newStr {
		return ErrorResult("old_string and new_string are identical")
	}

	rel, result := resolveFileArg(path, t.client.Root(), t.restrict, t.denied)
	if result != nil {
		return result
	}

	content, err := t.client.ReadFile(ctx, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorResult(fmt.Sprintf("File not found: %s", path))
		}
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	newContent, editErr := applyEdit(content, oldStr, newStr, replaceAll)
	if editErr != nil {
		return editErr
	}

	if err := t.client.WriteFile(ctx, rel, newContent); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	count := strings.Count(content, oldStr)
	if !replaceAll {
		count = 1
	}
	return TextResult(fmt.Sprintf("File edited: %s (%d replacement(s))", path, count))
}

// applyEdit performs the search-and-replace. Returns (newContent, nil) on
// success or ("", errorResult) on failure.
func applyEdit(content, oldStr, newStr string, replaceAll bool) (string, *Result) {
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", ErrorResult("old_string not found in file")
	}
	if !replaceAll && count > 1 {
		return "", ErrorResult(fmt.Sprintf("old_string found %d times, use replace_all=true or provide a more specific match", count))
	}

	if replaceAll {
		return strings.ReplaceAll(content, oldStr, newStr), nil
	}
	return strings.Replace(content, oldStr, newStr, 1), nil
}

// resolveFileArg runs the boundary checks shared by the file tools and
// maps the path to its root-relative form.
func resolveFileArg(path, root string, restrict bool, denied []string) (string, *Result) {
	resolved, err := resolvePath(path, root, restrict)
	if err != nil {
		return "", ErrorResult(err.Error())
	}
	if err := checkHardlink(resolved); err != nil {
		return "", ErrorResult(err.Error())
	}
	if len(denied) > 0 {
		if err := checkDeniedPath(resolved, root, denied); err != nil {
			return "", ErrorResult(err.Error())
		}
	}
	return rootRelative(resolved, root), nil
}

// intArg extracts an integer argument that may arrive as float64 from
// JSON decoding.
func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// sliceLines returns up to limit lines starting at the 1-based offset.
func sliceLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return ""
	}
	lines = lines[offset-1:]
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n")
}
