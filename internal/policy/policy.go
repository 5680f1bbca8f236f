// Package policy gates every tool invocation against path and command
// rules before execution, and records the outcome after.
//
// A Policy instance is scoped to a single fork's sandbox root. The
// Config it evaluates is shared, read-only, and identical across all
// concurrent forks. Validation is a pure function of config plus input:
// running it twice on the same input yields the same decision.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Violation is the policy-rejection outcome for a tool call. It is an
// expected, non-fatal error: callers surface it to the agent loop as a
// tool-result error, never as a crash.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return v.Reason }

// IsViolation reports whether err is (or wraps) a policy Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

func violationf(format string, args ...any) error {
	return &Violation{Reason: fmt.Sprintf(format, args...)}
}

// Config holds the process-wide security rules. Read-only after load;
// safe to share across forks without locking.
type Config struct {
	// AllowedPathPrefixes are sandbox-root-relative prefixes file tools
	// may touch when StrictPathValidation is on.
	AllowedPathPrefixes []string `json:"allowed_path_prefixes"`

	// BlockedPathPrefixes are absolute prefixes that are always denied,
	// regardless of StrictPathValidation. "~" expands to the home dir.
	BlockedPathPrefixes []string `json:"blocked_path_prefixes"`

	// BlockedCommands are substrings that reject a shell command when
	// they appear verbatim.
	BlockedCommands []string `json:"blocked_commands"`

	// BlockedCommandPatterns are case-insensitive regexes that reject a
	// shell command on match.
	BlockedCommandPatterns []string `json:"blocked_command_patterns"`

	MaxFileSizeBytes     int64 `json:"max_file_size_bytes"`
	StrictPathValidation bool  `json:"strict_path_validation"`
}

// DefaultConfig returns the stock security rules.
func DefaultConfig() Config {
	return Config{
		AllowedPathPrefixes: []string{
			"temp/", "specs/", "workspace/", "src/", "tests/",
			"docs/", "scripts/", "config/", "data/",
		},
		BlockedPathPrefixes: []string{
			"/etc/", "/var/", "/usr/", "/bin/", "/sbin/", "/boot/",
			"/sys/", "/proc/",
			"~/.ssh/", "~/.aws/", "~/.config/",
		},
		BlockedCommands: []string{
			"rm -rf /", "rm -rf /*", "sudo rm", "mkfs", "dd if=",
			":(){ :|:& };:", "chmod 000", "chown root", "mkfs.ext4",
			"fdisk", "parted", "shutdown", "reboot", "halt", "poweroff",
		},
		BlockedCommandPatterns: []string{
			`rm\s+-rf\s+/`,
			`sudo\s+rm`,
			`mkfs`,
			`dd\s+if=`,
			`chmod\s+000`,
			`shutdown`,
			`reboot`,
			`halt`,
			`poweroff`,
		},
		MaxFileSizeBytes:     100 << 20, // 100 MiB
		StrictPathValidation: true,
	}
}

// escapeIdioms are shell fragments that suggest an attempt to leave the
// sandbox. They are logged as warnings, not blocked: agents legitimately
// need to change directories sometimes.
var escapeIdioms = []string{"cd /", "cd ~", "cd $HOME", "../../../", "pushd /", "popd"}

// Policy validates tool invocations for one fork.
type Policy struct {
	root      string
	cfg       Config
	blockedRe []*regexp.Regexp
	logger    *slog.Logger
}

// New builds a Policy scoped to the given sandbox root. The root is
// made absolute so relative tool paths resolve against it rather than
// the process working directory.
func New(root string, cfg Config, logger *slog.Logger) (*Policy, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve sandbox root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiled := make([]*regexp.Regexp, 0, len(cfg.BlockedCommandPatterns))
	for _, p := range cfg.BlockedCommandPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("policy: compile blocked pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Policy{
		root:      abs,
		cfg:       cfg,
		blockedRe: compiled,
		logger:    logger,
	}, nil
}

// Root returns the absolute sandbox root this policy is scoped to.
func (p *Policy) Root() string { return p.root }

// ValidateBefore checks a tool call before execution. Returns a
// *Violation error when the call is denied, nil when it may proceed.
func (p *Policy) ValidateBefore(tool string, args map[string]any) error {
	switch tool {
	case "Read", "Write", "Edit":
		return p.validateFileAccess(tool, args)
	case "Bash":
		return p.validateCommand(args)
	case "Glob", "Grep":
		return p.validateSearch(tool, args)
	}
	return nil
}

// RecordAfter logs a tool call outcome. It is a pure logging side
// effect: it never fails and never blocks the caller.
func (p *Policy) RecordAfter(tool string, args map[string]any, result string, err error) {
	if err != nil {
		p.logger.Warn("tool call failed", "tool", tool, "error", err.Error())
		return
	}
	p.logger.Debug("tool call succeeded", "tool", tool, "result", truncate(result, 500))
}

func (p *Policy) validateFileAccess(tool string, args map[string]any) error {
	path, _ := args["file_path"].(string)
	if path == "" {
		return nil
	}

	resolved := p.resolve(path)

	// Blocked prefixes are enforced unconditionally.
	if blocked, prefix := p.isBlocked(resolved); blocked {
		return violationf("access denied: %s is under blocked path %s", path, prefix)
	}

	if p.cfg.StrictPathValidation && !p.isAllowed(resolved) {
		return violationf("access denied: %s is outside allowed directories %v", path, p.cfg.AllowedPathPrefixes)
	}

	if tool == "Write" || tool == "Edit" {
		content, _ := args["content"].(string)
		if content == "" {
			content, _ = args["new_string"].(string)
		}
		if n := int64(len(content)); n > p.cfg.MaxFileSizeBytes {
			return violationf("file too large: %d bytes exceeds limit of %d", n, p.cfg.MaxFileSizeBytes)
		}
	}

	return nil
}

func (p *Policy) validateCommand(args map[string]any) error {
	command, _ := args["command"].(string)
	if command == "" {
		return nil
	}

	for _, blocked := range p.cfg.BlockedCommands {
		if strings.Contains(command, blocked) {
			return violationf("blocked command detected: %s", blocked)
		}
	}

	for _, re := range p.blockedRe {
		if re.MatchString(command) {
			return violationf("command matches blocked pattern: %s", re.String())
		}
	}

	// Dangerous redirects and raw-device pipes are hard failures.
	if strings.Contains(command, "> /dev/") || strings.Contains(command, "| dd ") {
		return violationf("dangerous redirect or pipe detected")
	}

	p.warnOnEscapeIdioms(command)
	return nil
}

// warnOnEscapeIdioms flags directory-escape idioms as warnings only.
// Token-level inspection catches `cd  /` and friends that the verbatim
// substring check would miss.
func (p *Policy) warnOnEscapeIdioms(command string) {
	for _, idiom := range escapeIdioms {
		if strings.Contains(command, idiom) {
			p.logger.Warn("potential sandbox escape attempt", "command", truncate(command, 200), "idiom", idiom)
			return
		}
	}

	tokens, err := shellwords.Parse(command)
	if err != nil {
		// Unparseable commands still run; the verbatim checks above
		// already had their chance.
		p.logger.Debug("command tokenization failed", "error", err.Error())
		return
	}
	for i, tok := range tokens {
		if (tok == "cd" || tok == "pushd") && i+1 < len(tokens) {
			arg := tokens[i+1]
			if arg == "/" || arg == "~" || strings.HasPrefix(arg, "/") && !strings.HasPrefix(arg, p.root) {
				p.logger.Warn("potential sandbox escape attempt", "command", truncate(command, 200), "idiom", tok+" "+arg)
				return
			}
		}
	}
}

func (p *Policy) validateSearch(tool string, args map[string]any) error {
	path, _ := args["path"].(string)
	if path == "" {
		return nil
	}
	resolved := p.resolve(path)
	if blocked, prefix := p.isBlocked(resolved); blocked {
		return violationf("%s search blocked in %s (under %s)", strings.ToLower(tool), path, prefix)
	}
	return nil
}

// resolve turns a tool path argument into a cleaned absolute path.
// Relative paths resolve against the sandbox root, never the process
// current directory.
func (p *Policy) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(p.root, path)
}

// isBlocked reports whether resolved falls under any blocked prefix.
// Containment is parent-directory based: /etc2/x is not blocked by a
// rule for /etc/.
func (p *Policy) isBlocked(resolved string) (bool, string) {
	for _, raw := range p.cfg.BlockedPathPrefixes {
		prefix := expandHome(raw)
		prefix = filepath.Clean(prefix)
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return true, raw
		}
	}
	return false, ""
}

// isAllowed reports whether resolved sits under one of the allowed
// root-relative prefixes.
func (p *Policy) isAllowed(resolved string) bool {
	rel, err := filepath.Rel(p.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	for _, allowed := range p.cfg.AllowedPathPrefixes {
		trimmed := strings.TrimSuffix(filepath.FromSlash(allowed), string(filepath.Separator))
		if rel == trimmed || strings.HasPrefix(rel, trimmed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
