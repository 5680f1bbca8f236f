// Package forklog writes one structured log file per agent fork.
//
// All forks of a run share a session timestamp, so a run's files sort
// together: logs/fork_3_20260829_141502.log. Loggers are created on
// first use and safe for concurrent callers.
package forklog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const sessionTimeLayout = "20060102_150405"

// Manager hands out per-fork loggers under a shared log directory.
type Manager struct {
	dir       string
	sessionTS string
	level     slog.Level

	mu      sync.Mutex
	loggers map[int]*ForkLogger
}

// NewManager creates the log directory if needed and fixes the session
// timestamp all fork log files of this run will carry.
func NewManager(dir string, level slog.Level) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Manager{
		dir:       dir,
		sessionTS: time.Now().Format(sessionTimeLayout),
		level:     level,
		loggers:   make(map[int]*ForkLogger),
	}, nil
}

// Dir returns the log directory.
func (m *Manager) Dir() string { return m.dir }

// SessionTimestamp returns the shared timestamp suffix of this run.
func (m *Manager) SessionTimestamp() string { return m.sessionTS }

// Logger returns the logger for a fork, creating its file on first call.
func (m *Manager) Logger(forkID int) (*ForkLogger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[forkID]; ok {
		return l, nil
	}

	path := filepath.Join(m.dir, fmt.Sprintf("fork_%d_%s.log", forkID, m.sessionTS))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open fork log: %w", err)
	}

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: m.level})
	l := &ForkLogger{
		Logger: slog.New(handler).With("fork_id", forkID),
		forkID: forkID,
		path:   path,
		file:   f,
	}
	m.loggers[forkID] = l
	return l, nil
}

// Paths returns the file paths of all loggers created so far.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.loggers))
	for _, l := range m.loggers {
		paths = append(paths, l.path)
	}
	return paths
}

// CloseAll flushes and closes every fork log file.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.loggers = make(map[int]*ForkLogger)
	return firstErr
}

// ForkLogger is a slog.Logger writing JSON lines to the fork's file.
type ForkLogger struct {
	*slog.Logger
	forkID int
	path   string

	closeOnce sync.Once
	file      *os.File
	closeErr  error
}

// ForkID returns the fork this logger belongs to.
func (l *ForkLogger) ForkID() int { return l.forkID }

// Path returns the log file path.
func (l *ForkLogger) Path() string { return l.path }

// Close closes the underlying file. Safe to call multiple times.
func (l *ForkLogger) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.file.Close()
	})
	return l.closeErr
}
