package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dinbutler/obox/internal/policy"
	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/sandbox"
)

// DefaultDeniedDirs are workspace-relative directory names no tool may
// touch regardless of policy configuration.
var DefaultDeniedDirs = []string{".obox"}

// The fork tool surface is a closed set. Dispatch is a total switch over
// these names; anything else is rejected before it can reach a tool.
const (
	NameBash  = "Bash"
	NameRead  = "Read"
	NameWrite = "Write"
	NameEdit  = "Edit"
	NameGlob  = "Glob"
	NameGrep  = "Grep"
)

// Executor dispatches tool calls, bracketing every call with security
// policy checks. The before-check can reject the call outright; the
// after-hook records the outcome.
type Executor struct {
	bash, read, write, edit, glob, grep Tool

	policy *policy.Policy
	logger *slog.Logger
}

// NewStandardExecutor creates an executor with the full tool set bound
// to a sandbox client. A nil logger falls back to slog.Default.
func NewStandardExecutor(client sandbox.Client, p *policy.Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	restrict := true
	denied := DefaultDeniedDirs
	return &Executor{
		bash:   NewBashTool(client, restrict),
		read:   NewReadTool(client, restrict, denied),
		write:  NewWriteTool(client, restrict, denied),
		edit:   NewEditTool(client, restrict, denied),
		glob:   NewGlobTool(client, restrict, denied),
		grep:   NewGrepTool(client, restrict, denied),
		policy: p,
		logger: logger,
	}
}

// lookup is the total match over the closed tool set.
func (e *Executor) lookup(name string) Tool {
	switch name {
	case NameBash:
		return e.bash
	case NameRead:
		return e.read
	case NameWrite:
		return e.write
	case NameEdit:
		return e.edit
	case NameGlob:
		return e.glob
	case NameGrep:
		return e.grep
	default:
		return nil
	}
}

// Definitions returns provider tool definitions in stable order.
func (e *Executor) Definitions() []providers.ToolDefinition {
	all := []Tool{e.bash, e.edit, e.glob, e.grep, e.read, e.write}
	defs := make([]providers.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}

// Execute runs a single tool call. Policy violations and unknown tools
// come back as error results; they are never fatal to the turn loop.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}) (result *Result) {
	tool := e.lookup(name)
	if tool == nil {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if e.policy != nil {
		if err := e.policy.ValidateBefore(name, args); err != nil {
			if policy.IsViolation(err) {
				e.logger.Warn("tool call rejected by security policy", "tool", name, "reason", err.Error())
				return ViolationResult(fmt.Sprintf("SECURITY VIOLATION: %s", err.Error()))
			}
			return ErrorResult(err.Error())
		}
		// Deferred so the outcome is recorded even when the tool panics.
		defer func() {
			content := ""
			var resultErr error
			if result != nil {
				content = result.Content
				if result.IsError {
					resultErr = fmt.Errorf("%s", result.Content)
				}
			}
			e.policy.RecordAfter(name, args, content, resultErr)
		}()
	}

	result = tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	return result
}
