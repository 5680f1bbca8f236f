package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dinbutler/obox/internal/sandbox"
)

const (
	maxGlobResults = 500
	maxGrepMatches = 100
	maxGrepFile    = 10 << 20 // skip files larger than 10MB
)

// GlobTool finds files matching a glob pattern. Patterns support "**"
// for recursive directory matching in addition to the usual "*" and "?".
type GlobTool struct {
	client   sandbox.Client
	restrict bool
	denied   []string
}

func NewGlobTool(client sandbox.Client, restrict bool, denied []string) *GlobTool {
	return &GlobTool{client: client, restrict: restrict, denied: denied}
}

func (t *GlobTool) Name() string { return "Glob" }
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern, e.g. '**/*.go' or 'src/*.py'"
}

func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern to match against file paths",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (default: workspace root)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}

	base, result := t.resolveBase(args)
	if result != nil {
		return result
	}

	matcher, err := compileGlob(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid glob pattern: %v", err))
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		rel, rerr := filepath.Rel(base, path)
		if rerr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if t.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.MatchString(filepath.ToSlash(rel)) {
			matches = append(matches, rel)
			if len(matches) >= maxGlobResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", walkErr))
	}

	if len(matches) == 0 {
		return TextResult("No files found")
	}
	sort.Strings(matches)
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n...[truncated at %d results]", maxGlobResults)
	}
	return TextResult(out)
}

func (t *GlobTool) resolveBase(args map[string]interface{}) (string, *Result) {
	return resolveSearchBase(args, t.client.Root(), t.restrict)
}

func (t *GlobTool) skipDir(path string) bool {
	return skipSearchDir(path, t.denied)
}

// compileGlob translates a glob pattern into an anchored regexp.
// "**" matches any number of path segments, "*" matches within a
// segment, "?" matches a single character.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	p := filepath.ToSlash(pattern)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				// "**/" spans zero or more directories
				if i+2 < len(p) && p[i+2] == '/' {
					sb.WriteString(`(?:[^/]+/)*`)
					i += 2
				} else {
					sb.WriteString(`.*`)
					i++
				}
			} else {
				sb.WriteString(`[^/]*`)
			}
		case '?':
			sb.WriteString(`[^/]`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// GrepTool searches file contents for a regular expression.
type GrepTool struct {
	client   sandbox.Client
	restrict bool
	denied   []string
}

func NewGrepTool(client sandbox.Client, restrict bool, denied []string) *GrepTool {
	return &GrepTool{client: client, restrict: restrict, denied: denied}
}

func (t *GrepTool) Name() string { return "Grep" }
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression, returning matching lines as path:line:text"
}

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory or file to search in (default: workspace root)",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Optional glob filter on file paths, e.g. '*.go'",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid regular expression: %v", err))
	}

	var fileFilter *regexp.Regexp
	if g, _ := args["glob"].(string); g != "" {
		ff, gerr := compileGlob(g)
		if gerr != nil {
			return ErrorResult(fmt.Sprintf("invalid glob filter: %v", gerr))
		}
		fileFilter = ff
	}

	base, result := resolveSearchBase(args, t.client.Root(), t.restrict)
	if result != nil {
		return result
	}

	var sb strings.Builder
	matched := 0
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipSearchDir(path, t.denied) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(base, path)
		if rerr != nil {
			return nil
		}
		if fileFilter != nil && !fileFilter.MatchString(filepath.ToSlash(rel)) &&
			!fileFilter.MatchString(filepath.Base(rel)) {
			return nil
		}
		if info, ierr := d.Info(); ierr != nil || info.Size() > maxGrepFile {
			return nil
		}

		data, rerr2 := os.ReadFile(path)
		if rerr2 != nil {
			return nil
		}
		if isBinary(data) {
			return nil
		}

		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&sb, "%s:%d:%s\n", rel, i+1, line)
				matched++
				// Matches beyond the cap are dropped without a marker.
				if matched >= maxGrepMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return ErrorResult(fmt.Sprintf("grep failed: %v", walkErr))
	}

	if matched == 0 {
		return TextResult("No matches found")
	}
	return TextResult(strings.TrimSuffix(sb.String(), "\n"))
}

// resolveSearchBase resolves the optional "path" argument to a host
// directory to walk.
func resolveSearchBase(args map[string]interface{}, root string, restrict bool) (string, *Result) {
	base := root
	if p, _ := args["path"].(string); p != "" && p != "." {
		resolved, err := resolvePath(p, root, restrict)
		if err != nil {
			return "", ErrorResult(err.Error())
		}
		base = resolved
	}
	return base, nil
}

// skipSearchDir prunes denied directories and VCS internals from walks.
func skipSearchDir(path string, denied []string) bool {
	name := filepath.Base(path)
	if name == ".git" {
		return true
	}
	for _, d := range denied {
		if name == d {
			return true
		}
	}
	return false
}

// isBinary reports whether data looks like binary content.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
