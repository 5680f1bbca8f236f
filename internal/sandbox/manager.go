package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Manager tracks one sandbox client per fork and cleans up containers
// that outlive their run.
type Manager struct {
	cfg     Config
	clients map[int]Client
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewManager creates a manager. For docker isolation it starts a background
// pruning goroutine; call Stop before ReleaseAll during shutdown.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:     cfg,
		clients: make(map[int]Client),
		stopCh:  make(chan struct{}),
	}
	if cfg.Isolation == IsolationDocker {
		m.startPruning()
	}
	return m
}

// Get returns an existing client or creates one for the given fork.
func (m *Manager) Get(ctx context.Context, forkID int, root string) (Client, error) {
	m.mu.RLock()
	if c, ok := m.clients[forkID]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check
	if c, ok := m.clients[forkID]; ok {
		return c, nil
	}

	var (
		client Client
		err    error
	)
	switch m.cfg.Isolation {
	case IsolationLocal, "":
		client = NewLocalClient(root, m.cfg)
	case IsolationDocker:
		prefix := m.cfg.ContainerPrefix
		if prefix == "" {
			prefix = "obox-fork-"
		}
		name := prefix + sanitizeKey(fmt.Sprintf("%d", forkID))
		client, err = NewDockerClient(ctx, name, root, m.cfg)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownIsolation, m.cfg.Isolation)
	}
	if err != nil {
		return nil, err
	}

	m.clients[forkID] = client
	return client, nil
}

// Release closes a fork's client.
func (m *Manager) Release(ctx context.Context, forkID int) error {
	m.mu.Lock()
	c, ok := m.clients[forkID]
	if ok {
		delete(m.clients, forkID)
	}
	m.mu.Unlock()

	if ok {
		return c.Close(ctx)
	}
	return nil
}

// ReleaseAll closes every active client.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	clients := make(map[int]Client, len(m.clients))
	for k, v := range m.clients {
		clients[k] = v
	}
	m.clients = make(map[int]Client)
	m.mu.Unlock()

	for forkID, c := range clients {
		if err := c.Close(ctx); err != nil {
			slog.Warn("failed to release sandbox", "fork_id", forkID, "error", err)
		}
	}
	return nil
}

// Stop signals the pruning goroutine to stop.
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
		// already closed
	default:
		close(m.stopCh)
	}
}

// Stats returns information about active sandboxes.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"isolation": m.cfg.Isolation,
		"image":     m.cfg.Image,
		"active":    len(m.clients),
	}
}

// startPruning launches a goroutine that removes containers idle too long.
func (m *Manager) startPruning() {
	interval := time.Duration(m.cfg.PruneIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Prune(context.Background())
			}
		}
	}()

	slog.Debug("sandbox pruning started", "interval", interval)
}

// Prune removes docker clients whose containers have been idle too long.
func (m *Manager) Prune(ctx context.Context) {
	idleHours := m.cfg.IdleHours
	if idleHours <= 0 {
		idleHours = 24
	}
	threshold := time.Now().Add(-time.Duration(idleHours) * time.Hour)

	m.mu.RLock()
	var toRemove []int
	for forkID, c := range m.clients {
		dc, ok := c.(*DockerClient)
		if !ok {
			continue
		}
		dc.mu.Lock()
		lastUsed := dc.lastUsed
		dc.mu.Unlock()

		if lastUsed.Before(threshold) {
			toRemove = append(toRemove, forkID)
		}
	}
	m.mu.RUnlock()

	for _, forkID := range toRemove {
		m.mu.Lock()
		c, ok := m.clients[forkID]
		if ok {
			delete(m.clients, forkID)
		}
		m.mu.Unlock()

		if ok {
			if err := c.Close(ctx); err != nil {
				slog.Warn("prune: failed to destroy sandbox", "fork_id", forkID, "error", err)
			} else {
				slog.Info("pruned idle sandbox container", "fork_id", forkID)
			}
		}
	}
}

// sanitizeKey makes a key safe for Docker container names.
func sanitizeKey(key string) string {
	safe := strings.NewReplacer(
		":", "-",
		"/", "-",
		" ", "-",
		".", "-",
	).Replace(key)

	if len(safe) > 50 {
		safe = safe[:50]
	}
	return safe
}
