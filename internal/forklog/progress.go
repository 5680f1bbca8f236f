package forklog

import (
	"log/slog"
	"sync"
)

// ProgressTracker counts fork state transitions across workers. One
// mutex guards all counters so a snapshot is always consistent.
type ProgressTracker struct {
	mu         sync.Mutex
	total      int
	completed  int
	failed     int
	inProgress int
	logger     *slog.Logger
}

// NewProgressTracker tracks progress for a run of total forks.
func NewProgressTracker(total int, logger *slog.Logger) *ProgressTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressTracker{total: total, logger: logger}
}

// Claim records that a worker picked up the fork.
func (p *ProgressTracker) Claim(forkID int) {
	p.mu.Lock()
	p.inProgress++
	inProgress := p.inProgress
	p.mu.Unlock()

	p.logger.Info("fork started", "fork_id", forkID, "in_progress", inProgress, "total", p.total)
}

// Done records one finished fork.
func (p *ProgressTracker) Done(forkID int, success bool) {
	p.mu.Lock()
	if p.inProgress > 0 {
		p.inProgress--
	}
	if success {
		p.completed++
	} else {
		p.failed++
	}
	completed, failed, total := p.completed, p.failed, p.total
	p.mu.Unlock()

	p.logger.Info("fork finished",
		"fork_id", forkID, "success", success,
		"done", completed+failed, "total", total, "failed", failed)
}

// Snapshot returns (completed, failed, inProgress, total).
func (p *ProgressTracker) Snapshot() (completed, failed, inProgress, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.failed, p.inProgress, p.total
}

// Finished reports whether every fork has been accounted for.
func (p *ProgressTracker) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed+p.failed >= p.total
}
