// Package agent runs one bounded tool-use session against a provider.
//
// The loop alternates model calls and tool executions until the model
// ends its turn, the turn limit is hit, or an unrecoverable error
// occurs. Every session produces exactly one RunResult; panics inside
// the loop are converted to failed results instead of taking down the
// worker that runs them.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/tools"
)

// Agent drives the turn loop for a single fork.
type Agent struct {
	cfg      Config
	provider providers.Provider
	executor *tools.Executor
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an agent. A nil logger falls back to slog.Default.
func New(cfg Config, provider providers.Provider, executor *tools.Executor, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg.withDefaults(),
		provider: provider,
		executor: executor,
		logger:   logger,
		tracer:   otel.Tracer("obox/agent"),
	}
}

// Run executes the session for the given task prompt. It always returns
// a non-nil result; the error return mirrors result.Error for callers
// that want to branch on it.
func (a *Agent) Run(ctx context.Context, prompt string) (result *RunResult, err error) {
	start := time.Now()
	result = &RunResult{Status: StatusFailed, StopReason: providers.StopUnknown}

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			a.logger.Error("agent panicked", "panic", r, "stack", string(debug.Stack()))
			result.Status = StatusFailed
			result.Success = false
			result.Errors++
			result.Error = fmt.Sprintf("agent panic: %v", r)
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.Int("max_turns", a.cfg.MaxTurns),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("turns", result.Turns),
			attribute.Int("tool_calls", result.ToolCalls),
			attribute.Int("errors", result.Errors),
			attribute.String("status", string(result.Status)),
		)
		if result.Error != "" {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
	}()

	messages := []providers.Message{providers.UserMessage(prompt)}
	defs := a.executor.Definitions()

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		result.Turns = turn
		a.logger.Info("turn started", "turn", turn)

		resp, chatErr := a.chat(ctx, turn, messages, defs)
		if chatErr != nil {
			if ctx.Err() != nil {
				chatErr = ctx.Err()
			}
			a.logger.Error("model call failed", "turn", turn, "error", chatErr)
			result.Errors++
			result.Error = chatErr.Error()
			return result, chatErr
		}

		result.Usage.Add(resp.Usage)
		result.StopReason = resp.StopReason
		messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})

		toolUses := resp.ToolUses()
		if resp.StopReason != providers.StopToolUse || len(toolUses) == 0 {
			if resp.StopReason == providers.StopUnknown {
				a.logger.Warn("unrecognized stop reason, treating session as complete", "turn", turn)
			}
			result.FinalResponse = resp.TextContent()
			result.Status = StatusCompleted
			result.Success = result.Errors == 0 && result.FinalResponse != ""
			a.logger.Info("session completed",
				"turns", result.Turns, "tool_calls", result.ToolCalls,
				"errors", result.Errors, "stop_reason", resp.StopReason)
			return result, nil
		}

		messages = append(messages, providers.Message{
			Role:    "user",
			Content: a.runTools(ctx, turn, toolUses, result),
		})
	}

	result.Status = StatusTruncated
	result.Success = false
	result.FinalResponse = "Task incomplete: reached maximum turn limit"
	a.logger.Warn("session truncated by turn limit", "max_turns", a.cfg.MaxTurns)
	return result, nil
}

func (a *Agent) chat(ctx context.Context, turn int, messages []providers.Message, defs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	ctx, span := a.tracer.Start(ctx, "agent.chat", trace.WithAttributes(
		attribute.Int("turn", turn),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Model:     a.cfg.Model,
		System:    a.cfg.SystemPrompt,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  messages,
		Tools:     defs,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("stop_reason", string(resp.StopReason)),
		attribute.Int("input_tokens", resp.Usage.InputTokens),
		attribute.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// runTools executes the turn's tool_use blocks and returns the matching
// tool_result blocks. Calls beyond the per-turn limit are rejected
// without executing.
func (a *Agent) runTools(ctx context.Context, turn int, toolUses []providers.ContentBlock, result *RunResult) []providers.ContentBlock {
	results := make([]providers.ContentBlock, 0, len(toolUses))
	for i, use := range toolUses {
		if i >= a.cfg.MaxToolCallsPerTurn {
			a.logger.Warn("tool call limit reached", "turn", turn, "limit", a.cfg.MaxToolCallsPerTurn)
			results = append(results, providers.ToolResultBlock(use.ID,
				fmt.Sprintf("tool call rejected: limit of %d calls per turn exceeded", a.cfg.MaxToolCallsPerTurn), true))
			continue
		}

		result.ToolCalls++
		a.logger.Info("tool call", "turn", turn, "tool", use.Name, "args", previewArgs(use.Input))

		res := a.runTool(ctx, use)
		if res.Violation {
			result.Violations++
			result.Errors++
		}
		a.logger.Log(ctx, levelFor(res), "tool result",
			"turn", turn, "tool", use.Name, "error", res.IsError, "result", preview(res.Content, 500))

		results = append(results, providers.ToolResultBlock(use.ID, res.Content, res.IsError))
	}
	return results
}

func (a *Agent) runTool(ctx context.Context, use providers.ContentBlock) *tools.Result {
	ctx, span := a.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool", use.Name),
		attribute.String("tool_use_id", use.ID),
	))
	defer span.End()

	res := a.executor.Execute(ctx, use.Name, use.Input)
	span.SetAttributes(
		attribute.Bool("is_error", res.IsError),
		attribute.Bool("violation", res.Violation),
	)
	if res.Violation {
		span.SetStatus(codes.Error, "security violation")
	}
	return res
}

func levelFor(res *tools.Result) slog.Level {
	if res.IsError {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func previewArgs(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return preview(string(b), 300)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
