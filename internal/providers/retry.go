package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 2 * time.Second
)

// Retrying wraps a provider with bounded retries on transient failures.
// Non-retryable API errors (4xx other than 429) fail immediately.
type Retrying struct {
	inner    Provider
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewRetrying creates a retrying wrapper. Zero attempts or delay use the
// defaults (3 attempts, 2s between).
func NewRetrying(inner Provider, attempts int, delay time.Duration, logger *slog.Logger) *Retrying {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, attempts: attempts, delay: delay, logger: logger}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
		if attempt == r.attempts {
			break
		}

		r.logger.Warn("chat request failed, retrying",
			"provider", r.inner.Name(), "attempt", attempt, "max_attempts", r.attempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.delay):
		}
	}
	return nil, lastErr
}
