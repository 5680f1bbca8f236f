package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/dinbutler/obox/internal/policy"
	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/sandbox"
	"github.com/dinbutler/obox/internal/tools"
)

// scriptedProvider replays canned responses and records requests.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	errs      []error
	requests  []providers.ChatRequest
	panicOn   int // 1-based call number to panic on (0 = never)
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.requests = append(s.requests, req)
	n := len(s.requests)
	if s.panicOn > 0 && n == s.panicOn {
		panic("scripted panic")
	}
	if n <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	if n > len(s.responses) {
		return endTurn("done"), nil
	}
	return s.responses[n-1], nil
}

func endTurn(text string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content:    []providers.ContentBlock{providers.TextBlock(text)},
		StopReason: providers.StopEndTurn,
		Usage:      providers.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUse(id, name string, input map[string]interface{}) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content: []providers.ContentBlock{
			{Type: "tool_use", ID: id, Name: name, Input: input},
		},
		StopReason: providers.StopToolUse,
		Usage:      providers.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func newTestAgent(t *testing.T, cfg Config, p providers.Provider) (*Agent, sandbox.Client) {
	t.Helper()
	client := sandbox.NewLocalClient(t.TempDir(), sandbox.DefaultConfig())
	pol, err := policy.New(client.Root(), policy.DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	executor := tools.NewStandardExecutor(client, pol, slog.Default())
	return New(cfg, p, executor, slog.Default()), client
}

func TestRun_CompletesOnEndTurn(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{endTurn("all finished")}}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.FinalResponse != "all finished" {
		t.Errorf("final response = %q", res.FinalResponse)
	}
	if res.Turns != 1 || res.ToolCalls != 0 {
		t.Errorf("turns=%d tool_calls=%d", res.Turns, res.ToolCalls)
	}
	if res.Usage.Total() != 15 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestRun_ToolUseFlow(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolUse("t1", "Write", map[string]interface{}{
			"file_path": "src/out.txt",
			"content":   "written by fork",
		}),
		endTurn("file created"),
	}}
	a, client := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "write a file")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Turns != 2 || res.ToolCalls != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The tool actually ran.
	content, rerr := client.ReadFile(context.Background(), "src/out.txt")
	if rerr != nil || content != "written by fork" {
		t.Fatalf("file not written: %v %q", rerr, content)
	}

	// The second request carries assistant tool_use and user tool_result.
	second := p.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(second.Messages))
	}
	toolResult := second.Messages[2]
	if toolResult.Role != "user" || toolResult.Content[0].Type != "tool_result" {
		t.Fatalf("unexpected message: %+v", toolResult)
	}
	if toolResult.Content[0].ToolUseID != "t1" || toolResult.Content[0].IsError {
		t.Fatalf("unexpected tool result: %+v", toolResult.Content[0])
	}
}

func TestRun_TruncatedByTurnLimit(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolUse("t1", "Bash", map[string]interface{}{"command": "true"}),
		toolUse("t2", "Bash", map[string]interface{}{"command": "true"}),
		toolUse("t3", "Bash", map[string]interface{}{"command": "true"}),
	}}
	a, _ := newTestAgent(t, Config{Model: "sonnet", MaxTurns: 2}, p)

	res, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusTruncated {
		t.Fatalf("expected truncation, got %+v", res)
	}
	if res.Success {
		t.Error("truncated run must not be successful")
	}
	if !strings.Contains(res.FinalResponse, "maximum turn limit") {
		t.Errorf("final response = %q", res.FinalResponse)
	}
	if res.Turns != 2 || len(p.requests) != 2 {
		t.Errorf("turns=%d requests=%d", res.Turns, len(p.requests))
	}
}

func TestRun_ViolationCountsAsError(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolUse("t1", "Write", map[string]interface{}{
			"file_path": "/etc/passwd",
			"content":   "x",
		}),
		endTurn("I tried"),
	}}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "misbehave")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("unexpected status: %+v", res)
	}
	if res.Violations != 1 || res.Errors != 1 {
		t.Errorf("violations=%d errors=%d", res.Violations, res.Errors)
	}
	if res.Success {
		t.Error("session with violations must not be successful")
	}

	// The model received the violation as an error tool result.
	second := p.requests[1]
	block := second.Messages[2].Content[0]
	if !block.IsError || !strings.Contains(block.Content, "SECURITY VIOLATION") {
		t.Errorf("unexpected tool result: %+v", block)
	}
}

func TestRun_OrdinaryToolErrorDoesNotFailRun(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolUse("t1", "Read", map[string]interface{}{"file_path": "missing.txt"}),
		endTurn("file was missing, nothing to do"),
	}}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "read a file")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("ordinary tool error should not fail the run: %+v", res)
	}

	block := p.requests[1].Messages[2].Content[0]
	if !block.IsError || !strings.Contains(block.Content, "File not found") {
		t.Errorf("unexpected tool result: %+v", block)
	}
}

func TestRun_ProviderErrorFailsRun(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("api down")}}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.Status != StatusFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Error == "" || res.Errors != 1 {
		t.Errorf("error not recorded: %+v", res)
	}
}

func TestRun_PanicBecomesFailedResult(t *testing.T) {
	p := &scriptedProvider{panicOn: 1}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if res.Status != StatusFailed || !strings.Contains(res.Error, "panic") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_ToolCallLimitPerTurn(t *testing.T) {
	uses := make([]providers.ContentBlock, 3)
	for i := range uses {
		uses[i] = providers.ContentBlock{
			Type: "tool_use", ID: fmt.Sprintf("t%d", i), Name: "Bash",
			Input: map[string]interface{}{"command": "true"},
		}
	}
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: uses, StopReason: providers.StopToolUse},
		endTurn("done"),
	}}
	a, _ := newTestAgent(t, Config{Model: "sonnet", MaxToolCallsPerTurn: 2}, p)

	res, err := a.Run(context.Background(), "task")
	if err != nil {
		t.Fatal(err)
	}
	if res.ToolCalls != 2 {
		t.Errorf("expected 2 executed calls, got %d", res.ToolCalls)
	}

	// All three tool_use blocks got a result; the third is a rejection.
	blocks := p.requests[1].Messages[2].Content
	if len(blocks) != 3 {
		t.Fatalf("expected 3 tool results, got %d", len(blocks))
	}
	last := blocks[2]
	if !last.IsError || !strings.Contains(last.Content, "limit") {
		t.Errorf("unexpected third result: %+v", last)
	}
}

func TestRun_UnknownStopReasonCompletesWithWarning(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{
		Content:    []providers.ContentBlock{providers.TextBlock("odd finish")},
		StopReason: providers.StopUnknown,
	}}}

	client := sandbox.NewLocalClient(t.TempDir(), sandbox.DefaultConfig())
	pol, err := policy.New(client.Root(), policy.DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	var logBuf strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	executor := tools.NewStandardExecutor(client, pol, logger)
	a := New(Config{Model: "sonnet"}, p, executor, logger)

	res, err := a.Run(context.Background(), "task")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || !res.Success || res.FinalResponse != "odd finish" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(logBuf.String(), "unrecognized stop reason") {
		t.Errorf("missing warning, logs:\n%s", logBuf.String())
	}
}

func TestRun_EmptyFinalResponseIsNotSuccess(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: nil, StopReason: providers.StopEndTurn},
	}}
	a, _ := newTestAgent(t, Config{Model: "sonnet"}, p)

	res, err := a.Run(context.Background(), "task")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_SystemPromptAndToolsForwarded(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{endTurn("ok")}}
	a, _ := newTestAgent(t, Config{Model: "sonnet", SystemPrompt: "be brief"}, p)

	if _, err := a.Run(context.Background(), "task"); err != nil {
		t.Fatal(err)
	}
	req := p.requests[0]
	if req.System != "be brief" {
		t.Errorf("system prompt = %q", req.System)
	}
	if len(req.Tools) != 6 {
		t.Errorf("expected 6 tools, got %d", len(req.Tools))
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(SystemPromptConfig{
		ForkID:    2,
		NumForks:  5,
		Workspace: "/workspace",
		ToolNames: []string{"Bash", "Read", "Write", "Edit", "Glob", "Grep"},
		MaxTurns:  50,
	})
	for _, want := range []string{"fork 2 of 5", "/workspace", "Bash", "50 turns"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	single := BuildSystemPrompt(SystemPromptConfig{ForkID: 0, NumForks: 1})
	if strings.Contains(single, "fork 0 of 1") {
		t.Error("single-fork prompt should not mention forks")
	}
}
