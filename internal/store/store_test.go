package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/dinbutler/obox/internal/agent"
	"github.com/dinbutler/obox/internal/orchestrator"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &RunRecord{Prompt: "refactor the config loader", Model: "sonnet", NumForks: 3, MaxTurns: 50}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("run id was not assigned")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != run.Prompt || got.Model != "sonnet" || got.NumForks != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("new run must not be finished")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &RunRecord{Prompt: "task", Model: "haiku", NumForks: 2, MaxTurns: 10}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	results := []orchestrator.ForkResult{
		{ForkID: 0, Success: true, Status: agent.StatusCompleted, FinalResponse: "done",
			Turns: 2, ToolCalls: 1, TotalTokens: 500, TotalCost: 0.002, ExecutionTime: 1.2},
		{ForkID: 1, Success: false, Status: agent.StatusFailed, Errors: 1,
			Turns: 1, TotalTokens: 100, TotalCost: 0.0005, ExecutionTime: 0.4, Error: "api unreachable"},
	}
	if err := s.FinishRun(ctx, run.ID, results); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FinishedAt == nil {
		t.Fatal("run must be finished")
	}
	if got.Successful != 1 || got.Failed != 1 || got.TotalTokens != 600 {
		t.Errorf("aggregates: %+v", got)
	}

	stored, err := s.ForkResults(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 fork results, got %d", len(stored))
	}
	if stored[0].ForkID != 0 || !stored[0].Success || stored[0].FinalResponse != "done" {
		t.Errorf("fork 0: %+v", stored[0])
	}
	if stored[1].Status != agent.StatusFailed || stored[1].Error != "api unreachable" {
		t.Errorf("fork 1: %+v", stored[1])
	}
}

func TestFinishRun_UnknownRun(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), uuid.New(), []orchestrator.ForkResult{{ForkID: 0}})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &RunRecord{Prompt: "task", Model: "sonnet", NumForks: 1, MaxTurns: 5}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit not honored: %d", len(runs))
	}
	if runs[0].StartedAt.Before(runs[1].StartedAt) {
		t.Error("runs not newest first")
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &RunRecord{Prompt: "task", Model: "sonnet", NumForks: 1, MaxTurns: 5}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, run.ID, []orchestrator.ForkResult{{ForkID: 0, Success: true, Status: agent.StatusCompleted}}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRun(ctx, run.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRun(ctx, run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run survived delete: %v", err)
	}
	results, err := s.ForkResults(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("fork results survived cascade: %d", len(results))
	}
}
