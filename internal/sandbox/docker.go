package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"
)

// CheckDockerAvailable verifies that the Docker CLI and daemon are accessible.
// Returns nil if Docker is ready, or an error describing the failure.
func CheckDockerAvailable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker not available: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DockerClient runs fork commands inside a hardened Docker container with
// the fork root bind-mounted at the container workdir.
type DockerClient struct {
	containerID string
	cfg         Config
	root        string
	createdAt   time.Time
	lastUsed    time.Time
	mu          sync.Mutex // protects lastUsed
}

// NewDockerClient creates and starts a container for the given fork root.
func NewDockerClient(ctx context.Context, name, root string, cfg Config) (*DockerClient, error) {
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "obox.sandbox=true",
	}

	if cfg.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	for _, t := range cfg.Tmpfs {
		if cfg.TmpfsSizeMB > 0 && !strings.Contains(t, ":") {
			t = fmt.Sprintf("%s:size=%dm", t, cfg.TmpfsSizeMB)
		}
		args = append(args, "--tmpfs", t)
	}
	for _, cap := range cfg.CapDrop {
		args = append(args, "--cap-drop", cap)
	}
	args = append(args, "--security-opt", "no-new-privileges")

	if cfg.User != "" {
		args = append(args, "--user", cfg.User)
	}

	if cfg.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", cfg.MemoryMB))
	}
	if cfg.CPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.1f", cfg.CPUs))
	}
	if cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", cfg.PidsLimit))
	}

	if !cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}

	workdir := cfg.ContainerWorkdir()
	mountOpt := "rw"
	if cfg.WorkspaceAccess == AccessRO {
		mountOpt = "ro"
	}
	args = append(args, "-v", fmt.Sprintf("%s:%s:%s", root, workdir, mountOpt))
	args = append(args, "-w", workdir)

	for k, v := range cfg.Env {
		args = append(args, "-e", k+"="+v)
	}

	args = append(args, cfg.Image, "sleep", "infinity")

	slog.Debug("creating sandbox container", "name", name, "args", args)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run failed: %w\nstderr: %s", err, stderr.String())
	}

	containerID := strings.TrimSpace(stdout.String())
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}

	slog.Info("sandbox container created", "id", containerID, "name", name, "image", cfg.Image)

	if cfg.SetupCommand != "" {
		setupCmd := exec.CommandContext(ctx, "docker", "exec", "-i", containerID, "sh", "-lc", cfg.SetupCommand)
		if out, err := setupCmd.CombinedOutput(); err != nil {
			slog.Warn("sandbox setup command failed", "id", containerID, "error", err, "output", string(out))
		} else {
			slog.Info("sandbox setup command completed", "id", containerID)
		}
	}

	now := time.Now()
	return &DockerClient{
		containerID: containerID,
		cfg:         cfg,
		root:        root,
		createdAt:   now,
		lastUsed:    now,
	}, nil
}

func (c *DockerClient) Root() string { return c.root }

// ID returns the container ID.
func (c *DockerClient) ID() string { return c.containerID }

func (c *DockerClient) Exec(ctx context.Context, command, workdir string) (*ExecResult, error) {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()

	timeout := time.Duration(c.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec", "-w", c.containerPath(workdir), c.containerID, "sh", "-c", command}

	cmd := exec.CommandContext(execCtx, "docker", args...)

	maxOut := c.cfg.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = 1 << 20
	}
	stdout := &limitedBuffer{max: maxOut}
	stderr := &limitedBuffer{max: maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("docker exec: %w", err)
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

// ReadFile reads file contents from inside the container.
func (c *DockerClient) ReadFile(ctx context.Context, relPath string) (string, error) {
	resolved := c.containerPath(relPath)

	stdout, stderr, exitCode, err := c.dockerExec(ctx, nil, "cat", "--", resolved)
	if err != nil {
		return "", fmt.Errorf("sandbox read: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("read failed: %s", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// WriteFile writes content to a file inside the container, creating parent
// directories as needed.
func (c *DockerClient) WriteFile(ctx context.Context, relPath, content string) error {
	resolved := c.containerPath(relPath)

	if dir := path.Dir(resolved); dir != "" && dir != "/" {
		_, _, _, _ = c.dockerExec(ctx, nil, "mkdir", "-p", dir)
	}

	_, stderr, exitCode, err := c.dockerExec(ctx, []byte(content), "sh", "-c", fmt.Sprintf("cat > %q", resolved))
	if err != nil {
		return fmt.Errorf("sandbox write: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("write failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Close removes the container.
func (c *DockerClient) Close(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.containerID)
	if err := cmd.Run(); err != nil {
		slog.Warn("failed to remove sandbox container", "id", c.containerID, "error", err)
		return err
	}
	slog.Info("sandbox container destroyed", "id", c.containerID)
	return nil
}

// containerPath maps a root-relative path to the container filesystem.
func (c *DockerClient) containerPath(rel string) string {
	workdir := c.cfg.ContainerWorkdir()
	if rel == "" || rel == "." {
		return workdir
	}
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	return workdir + "/" + rel
}

// dockerExec runs a raw command inside the container and returns stdout,
// stderr, and exit code.
func (c *DockerClient) dockerExec(ctx context.Context, stdin []byte, args ...string) (string, string, int, error) {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()

	dockerArgs := []string{"exec"}
	if stdin != nil {
		dockerArgs = append(dockerArgs, "-i")
	}
	dockerArgs = append(dockerArgs, c.containerID)
	dockerArgs = append(dockerArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", dockerArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil // non-zero exit is not an execution error
		} else {
			return "", "", -1, err
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}
