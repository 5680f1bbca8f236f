package agent

import (
	"time"

	"github.com/dinbutler/obox/internal/providers"
)

// Defaults for the turn loop limits.
const (
	DefaultMaxTurns            = 100
	DefaultMaxToolCallsPerTurn = 50
)

// Status is the terminal state of an agent session.
type Status string

const (
	// StatusCompleted: the model ended its turn with a final response.
	StatusCompleted Status = "completed"
	// StatusTruncated: the turn limit was reached before the model finished.
	StatusTruncated Status = "truncated_by_turn_limit"
	// StatusFailed: an unrecoverable error or panic ended the session.
	StatusFailed Status = "failed"
)

// Config bounds a single agent session.
type Config struct {
	Model               string
	SystemPrompt        string
	MaxTurns            int
	MaxToolCallsPerTurn int
	MaxTokens           int
}

// withDefaults fills zero limits.
func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxToolCallsPerTurn <= 0 {
		c.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	return c
}

// RunResult is the outcome of one agent session.
type RunResult struct {
	Status        Status
	Success       bool
	FinalResponse string
	StopReason    providers.StopReason

	Turns      int
	ToolCalls  int
	Errors     int
	Violations int

	Usage    providers.Usage
	Duration time.Duration

	// Error carries the failure cause when Status is StatusFailed.
	Error string
}
