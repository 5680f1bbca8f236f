// Package orchestrator runs N agent forks concurrently over a bounded
// worker pool and aggregates their results.
//
// The invariant the whole package is built around: every dispatched
// ForkTask yields exactly one ForkResult. Panics are caught at the agent
// boundary and again at the worker boundary, so a crashed fork becomes a
// failed result instead of a lost one.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dinbutler/obox/internal/agent"
	"github.com/dinbutler/obox/internal/forklog"
	"github.com/dinbutler/obox/internal/policy"
	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/sandbox"
	"github.com/dinbutler/obox/internal/tools"
)

// Options configures one run.
type Options struct {
	Prompt   string
	NumForks int
	Model    string
	MaxTurns int

	// SandboxRoots optionally pins each fork to an existing directory.
	// When empty, fork roots are created under WorkDir.
	SandboxRoots []string

	// WorkDir is the base directory for generated fork roots.
	WorkDir string

	// MaxWorkers bounds the pool (default 10).
	MaxWorkers int
}

// Orchestrator owns the worker pool and the per-fork wiring.
type Orchestrator struct {
	provider  providers.Provider
	prices    providers.PriceTable
	policyCfg policy.Config
	logs      *forklog.Manager
	sandboxes *sandbox.Manager
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an orchestrator. The provider is shared by all forks, so
// rate limiting wrapped around it applies run-wide.
func New(provider providers.Provider, prices providers.PriceTable, policyCfg policy.Config,
	logs *forklog.Manager, sandboxes *sandbox.Manager, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if prices == nil {
		prices = providers.DefaultPrices()
	}
	return &Orchestrator{
		provider:  provider,
		prices:    prices,
		policyCfg: policyCfg,
		logs:      logs,
		sandboxes: sandboxes,
		logger:    logger,
		tracer:    otel.Tracer("obox/orchestrator"),
	}
}

// RunForks executes the run and returns results sorted by fork_id.
// Validation failures return before any worker starts.
func (o *Orchestrator) RunForks(ctx context.Context, opts Options) ([]ForkResult, error) {
	tasks, err := o.buildTasks(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run_forks", trace.WithAttributes(
		attribute.Int("num_forks", opts.NumForks),
		attribute.String("model", opts.Model),
	))
	defer span.End()

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	progress := forklog.NewProgressTracker(len(tasks), o.logger)
	taskCh := make(chan ForkTask)
	resultCh := make(chan ForkResult, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				progress.Claim(task.ForkID)
				result := o.runWorker(ctx, task)
				progress.Done(result.ForkID, result.Success)
				resultCh <- result
			}
		}()
	}

	// Feed tasks; a canceled context stops dispatch but already-claimed
	// tasks run to completion.
	dispatched := 0
dispatch:
	for _, task := range tasks {
		select {
		case taskCh <- task:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(taskCh)
	wg.Wait()
	close(resultCh)

	results := make([]ForkResult, 0, len(tasks))
	for r := range resultCh {
		results = append(results, r)
	}
	// Tasks never dispatched due to cancellation still get a result.
	if dispatched < len(tasks) {
		seen := make(map[int]bool, len(results))
		for _, r := range results {
			seen[r.ForkID] = true
		}
		for _, task := range tasks {
			if !seen[task.ForkID] {
				results = append(results, ForkResult{
					ForkID:  task.ForkID,
					Success: false,
					Status:  agent.StatusFailed,
					Error:   "canceled before dispatch",
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ForkID < results[j].ForkID })

	agg := AggregateResults(results)
	span.SetAttributes(
		attribute.Int("successful", agg.Successful),
		attribute.Int("failed", agg.Failed),
		attribute.Int("total_tokens", agg.TotalTokens),
	)
	o.logger.Info("run finished",
		"total", agg.Total, "successful", agg.Successful, "failed", agg.Failed,
		"total_tokens", agg.TotalTokens, "total_cost", fmt.Sprintf("%.4f", agg.TotalCost))

	// A canceled run still reports its results, but the interruption is
	// surfaced to the caller rather than swallowed.
	if err := ctx.Err(); err != nil {
		o.logger.Warn("execution interrupted", "dispatched", dispatched, "total", len(tasks))
		return results, err
	}
	return results, nil
}

// buildTasks validates options and materializes one task per fork,
// creating fork root directories as needed.
func (o *Orchestrator) buildTasks(opts Options) ([]ForkTask, error) {
	if opts.NumForks < 1 || opts.NumForks > MaxForks {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidForkCount, opts.NumForks)
	}
	if len(opts.SandboxRoots) > 0 && len(opts.SandboxRoots) != opts.NumForks {
		return nil, fmt.Errorf("%w: %d roots for %d forks", ErrRootCountMismatch, len(opts.SandboxRoots), opts.NumForks)
	}

	tasks := make([]ForkTask, opts.NumForks)
	for i := 0; i < opts.NumForks; i++ {
		root := ""
		if len(opts.SandboxRoots) > 0 {
			root = opts.SandboxRoots[i]
		} else {
			root = filepath.Join(opts.WorkDir, fmt.Sprintf("fork_%d", i))
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("create fork root %s: %w", root, err)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve fork root %s: %w", root, err)
		}
		tasks[i] = ForkTask{
			ForkID:      i,
			SandboxRoot: abs,
			Prompt:      opts.Prompt,
			Model:       opts.Model,
			MaxTurns:    opts.MaxTurns,
			NumForks:    opts.NumForks,
		}
	}
	return tasks, nil
}

// runWorker executes one task, converting any escaped panic into a
// failed result. This is the last line of defense; the agent has its
// own recover.
func (o *Orchestrator) runWorker(ctx context.Context, task ForkTask) (result ForkResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("worker crashed", "fork_id", task.ForkID, "panic", r, "stack", string(debug.Stack()))
			result = ForkResult{
				ForkID:        task.ForkID,
				Success:       false,
				Status:        agent.StatusFailed,
				Error:         fmt.Sprintf("worker crash: %v", r),
				Errors:        1,
				ExecutionTime: time.Since(start).Seconds(),
			}
		}
	}()

	return o.runSingleFork(ctx, task)
}

// runSingleFork wires up one fork's logger, sandbox, policy, and tools,
// then runs the agent session.
func (o *Orchestrator) runSingleFork(ctx context.Context, task ForkTask) ForkResult {
	start := time.Now()
	failed := func(err error) ForkResult {
		o.logger.Error("fork setup failed", "fork_id", task.ForkID, "error", err)
		return ForkResult{
			ForkID:        task.ForkID,
			Success:       false,
			Status:        agent.StatusFailed,
			Error:         err.Error(),
			Errors:        1,
			ExecutionTime: time.Since(start).Seconds(),
		}
	}

	logger, err := o.logs.Logger(task.ForkID)
	if err != nil {
		return failed(fmt.Errorf("fork logger: %w", err))
	}

	client, err := o.sandboxes.Get(ctx, task.ForkID, task.SandboxRoot)
	if err != nil {
		return failed(fmt.Errorf("sandbox: %w", err))
	}

	pol, err := policy.New(task.SandboxRoot, o.policyCfg, logger.Logger)
	if err != nil {
		return failed(fmt.Errorf("security policy: %w", err))
	}

	executor := tools.NewStandardExecutor(client, pol, logger.Logger)

	systemPrompt := agent.BuildSystemPrompt(agent.SystemPromptConfig{
		ForkID:    task.ForkID,
		NumForks:  task.NumForks,
		Workspace: task.SandboxRoot,
		ToolNames: []string{"Bash", "Read", "Write", "Edit", "Glob", "Grep"},
		MaxTurns:  task.MaxTurns,
	})

	ag := agent.New(agent.Config{
		Model:        task.Model,
		SystemPrompt: systemPrompt,
		MaxTurns:     task.MaxTurns,
	}, o.provider, executor, logger.Logger)

	logger.Info("fork started", "prompt_bytes", len(task.Prompt), "model", task.Model, "root", task.SandboxRoot)
	runResult, _ := ag.Run(ctx, task.Prompt)

	return ForkResult{
		ForkID:        task.ForkID,
		Success:       runResult.Success,
		Status:        runResult.Status,
		FinalResponse: runResult.FinalResponse,
		Turns:         runResult.Turns,
		ToolCalls:     runResult.ToolCalls,
		Errors:        runResult.Errors,
		TotalTokens:   runResult.Usage.Total(),
		TotalCost:     o.prices.CostUSD(task.Model, runResult.Usage),
		ExecutionTime: time.Since(start).Seconds(),
		Error:         runResult.Error,
	}
}
