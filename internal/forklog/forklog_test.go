package forklog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestManager_LoggerCreatesFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "logs"), slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	defer m.CloseAll()

	l, err := m.Logger(3)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("turn started", "turn", 1)
	l.Info("tool call", "turn", 1, "tool", "Bash")

	base := filepath.Base(l.Path())
	if !strings.HasPrefix(base, "fork_3_") || !strings.HasSuffix(base, ".log") {
		t.Errorf("unexpected file name: %s", base)
	}
	if !strings.Contains(base, m.SessionTimestamp()) {
		t.Errorf("file name missing session timestamp: %s", base)
	}

	if err := m.CloseAll(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["fork_id"].(float64) != 3 {
		t.Errorf("missing fork_id attr: %v", entry)
	}
}

func TestManager_LoggerIsSingletonPerFork(t *testing.T) {
	m, err := NewManager(t.TempDir(), slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	defer m.CloseAll()

	l1, _ := m.Logger(1)
	l2, _ := m.Logger(1)
	if l1 != l2 {
		t.Fatal("expected same logger for same fork")
	}

	if _, err := m.Logger(2); err != nil {
		t.Fatal(err)
	}
	if len(m.Paths()) != 2 {
		t.Fatalf("expected 2 files, got %d", len(m.Paths()))
	}
}

func TestManager_ConcurrentLoggerAccess(t *testing.T) {
	m, err := NewManager(t.TempDir(), slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	defer m.CloseAll()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l, err := m.Logger(n % 4)
			if err != nil {
				t.Error(err)
				return
			}
			l.Info("concurrent write", "n", n)
		}(i)
	}
	wg.Wait()

	if len(m.Paths()) != 4 {
		t.Fatalf("expected 4 files, got %d", len(m.Paths()))
	}
}

func TestProgressTracker(t *testing.T) {
	p := NewProgressTracker(3, slog.Default())

	p.Claim(0)
	p.Claim(1)
	if _, _, inProgress, _ := p.Snapshot(); inProgress != 2 {
		t.Fatalf("in_progress = %d, want 2", inProgress)
	}

	p.Done(0, true)
	p.Done(1, false)
	if p.Finished() {
		t.Fatal("not finished yet")
	}
	p.Claim(2)
	p.Done(2, true)

	completed, failed, inProgress, total := p.Snapshot()
	if completed != 2 || failed != 1 || inProgress != 0 || total != 3 {
		t.Errorf("snapshot = (%d, %d, %d, %d)", completed, failed, inProgress, total)
	}
	if !p.Finished() {
		t.Fatal("expected finished")
	}
}

func TestProgressTracker_Concurrent(t *testing.T) {
	const n = 50
	p := NewProgressTracker(n, slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.Claim(id)
			p.Done(id, id%2 == 0)
		}(i)
	}
	wg.Wait()

	completed, failed, _, _ := p.Snapshot()
	if completed+failed != n {
		t.Fatalf("lost updates: %d + %d != %d", completed, failed, n)
	}
	if completed != 25 || failed != 25 {
		t.Errorf("unexpected split: %d/%d", completed, failed)
	}
}
