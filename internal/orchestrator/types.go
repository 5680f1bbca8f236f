package orchestrator

import (
	"errors"

	"github.com/dinbutler/obox/internal/agent"
)

// Hard limits on a run.
const (
	MaxForks          = 100
	DefaultMaxWorkers = 10
)

// Validation errors, raised before any worker starts.
var (
	ErrInvalidForkCount  = errors.New("num_forks must be between 1 and 100")
	ErrRootCountMismatch = errors.New("sandbox_roots length must equal num_forks")
)

// ForkTask is one unit of parallel work. Immutable once submitted.
type ForkTask struct {
	ForkID      int    `json:"fork_id"`
	SandboxRoot string `json:"sandbox_root"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	MaxTurns    int    `json:"max_turns"`

	// NumForks is the size of the run this task belongs to, surfaced to
	// the fork's system prompt.
	NumForks int `json:"num_forks"`
}

// ForkResult is the outcome of one fork. Exactly one is produced per
// ForkTask, even when the worker running it crashes.
type ForkResult struct {
	ForkID        int          `json:"fork_id"`
	Success       bool         `json:"success"`
	Status        agent.Status `json:"status"`
	FinalResponse string       `json:"final_response"`

	Turns       int     `json:"turns"`
	ToolCalls   int     `json:"tool_calls"`
	Errors      int     `json:"errors"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`

	// ExecutionTime is wall-clock seconds for the fork.
	ExecutionTime float64 `json:"execution_time"`

	// Error carries the failure cause when the fork did not complete.
	Error string `json:"error,omitempty"`
}

// Aggregate summarizes a full run.
type Aggregate struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`

	TotalTurns     int     `json:"total_turns"`
	TotalToolCalls int     `json:"total_tool_calls"`
	TotalErrors    int     `json:"total_errors"`
	TotalTokens    int     `json:"total_tokens"`
	TotalCost      float64 `json:"total_cost"`
	TotalTime      float64 `json:"total_time"`

	AvgTurns     float64 `json:"avg_turns"`
	AvgToolCalls float64 `json:"avg_tool_calls"`
	AvgTokens    float64 `json:"avg_tokens"`
	AvgCost      float64 `json:"avg_cost"`
	AvgTime      float64 `json:"avg_time"`
}

// AggregateResults computes run statistics over per-fork results.
func AggregateResults(results []ForkResult) Aggregate {
	agg := Aggregate{Total: len(results)}
	for _, r := range results {
		if r.Success {
			agg.Successful++
		} else {
			agg.Failed++
		}
		agg.TotalTurns += r.Turns
		agg.TotalToolCalls += r.ToolCalls
		agg.TotalErrors += r.Errors
		agg.TotalTokens += r.TotalTokens
		agg.TotalCost += r.TotalCost
		agg.TotalTime += r.ExecutionTime
	}
	if agg.Total > 0 {
		n := float64(agg.Total)
		agg.AvgTurns = float64(agg.TotalTurns) / n
		agg.AvgToolCalls = float64(agg.TotalToolCalls) / n
		agg.AvgTokens = float64(agg.TotalTokens) / n
		agg.AvgCost = agg.TotalCost / n
		agg.AvgTime = agg.TotalTime / n
	}
	return agg
}
