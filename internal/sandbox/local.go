package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalClient runs fork commands directly on the host, confined to the
// fork root by working directory. Path confinement itself is enforced by
// the tool layer before a path reaches the client.
type LocalClient struct {
	root string
	cfg  Config
}

// NewLocalClient creates a client rooted at the given directory.
func NewLocalClient(root string, cfg Config) *LocalClient {
	return &LocalClient{root: root, cfg: cfg}
}

func (c *LocalClient) Root() string { return c.root }

func (c *LocalClient) Exec(ctx context.Context, command, workdir string) (*ExecResult, error) {
	timeout := time.Duration(c.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = c.hostPath(workdir)
	if len(c.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range c.cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	maxOut := c.cfg.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = 1 << 20
	}
	stdout := &limitedBuffer{max: maxOut}
	stderr := &limitedBuffer{max: maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec: %w", err)
		}
	}

	result := &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if stdout.truncated {
		result.Stdout += "\n...[output truncated]"
	}
	if stderr.truncated {
		result.Stderr += "\n...[output truncated]"
	}
	return result, nil
}

func (c *LocalClient) ReadFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(c.hostPath(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *LocalClient) WriteFile(_ context.Context, path, content string) error {
	resolved := c.hostPath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0644)
}

func (c *LocalClient) Close(context.Context) error { return nil }

// hostPath maps a root-relative path to the host filesystem.
func (c *LocalClient) hostPath(rel string) string {
	if rel == "" || rel == "." {
		return c.root
	}
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	return filepath.Join(c.root, rel)
}

// limitedBuffer is a bytes.Buffer that stops accepting writes after max bytes.
// Prevents OOM when commands produce large output.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	if lb.truncated {
		return len(p), nil // discard silently
	}
	remaining := lb.max - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		lb.buf.Write(p[:remaining])
		lb.truncated = true
		return len(p), nil
	}
	return lb.buf.Write(p)
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}
