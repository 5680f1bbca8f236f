package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLimitedBuffer_UnderLimit(t *testing.T) {
	lb := &limitedBuffer{max: 100}
	n, err := lb.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if lb.String() != "hello" {
		t.Errorf("expected 'hello', got %q", lb.String())
	}
	if lb.truncated {
		t.Error("should not be truncated")
	}
}

func TestLimitedBuffer_OverLimit(t *testing.T) {
	lb := &limitedBuffer{max: 5}
	n, err := lb.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should report all bytes as "written" (consumed) even though truncated
	if n != 11 {
		t.Errorf("expected 11 (full input consumed), got %d", n)
	}
	if lb.String() != "hello" {
		t.Errorf("expected 'hello', got %q", lb.String())
	}
	if !lb.truncated {
		t.Error("should be truncated")
	}
}

func TestLimitedBuffer_MultipleWrites(t *testing.T) {
	lb := &limitedBuffer{max: 10}
	lb.Write([]byte("aaaa"))
	lb.Write([]byte("bbbb"))
	lb.Write([]byte("cccc")) // should be partially truncated

	if lb.buf.Len() != 10 {
		t.Errorf("expected 10 bytes, got %d", lb.buf.Len())
	}
	if !lb.truncated {
		t.Error("should be truncated after exceeding max")
	}
	if lb.String() != "aaaabbbbcc" {
		t.Errorf("expected 'aaaabbbbcc', got %q", lb.String())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxOutputBytes != 1<<20 {
		t.Errorf("expected 1MB default, got %d", cfg.MaxOutputBytes)
	}
	if cfg.Isolation != IsolationLocal {
		t.Errorf("expected local isolation by default, got %s", cfg.Isolation)
	}
	if cfg.TimeoutSec != 120 {
		t.Errorf("expected 120s timeout, got %d", cfg.TimeoutSec)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"run:42:fork:3", "run-42-fork-3"},
		{"simple", "simple"},
		{"has/slash", "has-slash"},
		{"has space", "has-space"},
		{strings.Repeat("x", 100), strings.Repeat("x", 50)},
	}
	for _, tc := range tests {
		got := sanitizeKey(tc.input)
		if got != tc.expected {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestLocalClient_Exec(t *testing.T) {
	c := NewLocalClient(t.TempDir(), DefaultConfig())

	res, err := c.Exec(context.Background(), "echo hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", res.ExitCode, res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("expected 'hello', got %q", res.Stdout)
	}
}

func TestLocalClient_ExecNonZeroExit(t *testing.T) {
	c := NewLocalClient(t.TempDir(), DefaultConfig())

	res, err := c.Exec(context.Background(), "exit 3", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestLocalClient_ExecTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutSec = 1
	c := NewLocalClient(t.TempDir(), cfg)

	_, err := c.Exec(context.Background(), "sleep 5", "")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got: %v", err)
	}
}

func TestLocalClient_ExecRunsInRoot(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, DefaultConfig())

	res, err := c.Exec(context.Background(), "pwd", "")
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(res.Stdout)
	want, _ := filepath.EvalSymlinks(root)
	if got != root && got != want {
		t.Fatalf("expected pwd %s, got %s", root, got)
	}
}

func TestLocalClient_ReadWriteFile(t *testing.T) {
	root := t.TempDir()
	c := NewLocalClient(root, DefaultConfig())
	ctx := context.Background()

	if err := c.WriteFile(ctx, "sub/dir/out.txt", "content"); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadFile(ctx, "sub/dir/out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "content" {
		t.Fatalf("expected 'content', got %q", got)
	}

	// The file lands under the root on the host side.
	if _, err := os.Stat(filepath.Join(root, "sub", "dir", "out.txt")); err != nil {
		t.Fatalf("expected file under root: %v", err)
	}
}

func TestManager_LocalGetIsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig())
	defer m.Stop()
	ctx := context.Background()

	root := t.TempDir()
	c1, err := m.Get(ctx, 1, root)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := m.Get(ctx, 1, root)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expected same client for same fork id")
	}

	if err := m.ReleaseAll(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Stats()["active"].(int) != 0 {
		t.Fatal("expected no active clients after ReleaseAll")
	}
}

func TestManager_UnknownIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Isolation = "vm"
	m := NewManager(cfg)
	defer m.Stop()

	_, err := m.Get(context.Background(), 1, t.TempDir())
	if err == nil {
		t.Fatal("expected error for unknown isolation mode")
	}
}
