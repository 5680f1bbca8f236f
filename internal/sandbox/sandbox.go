// Package sandbox provides isolated execution roots for agent forks.
//
// Every fork owns a Client rooted at its own directory. Shell commands and
// file operations issued by the fork's tools go through the Client, so the
// fork never touches files outside its root. Two backends exist:
//   - local: commands run on the host with the fork root as working
//     directory (default)
//   - docker: commands run inside a hardened Docker container with the
//     fork root bind-mounted at /workspace
package sandbox

import (
	"context"
	"fmt"
)

// Isolation selects the execution backend.
type Isolation string

const (
	IsolationLocal  Isolation = "local"
	IsolationDocker Isolation = "docker"
)

// Access determines fork root filesystem permissions inside a container.
type Access string

const (
	AccessRO Access = "ro"
	AccessRW Access = "rw"
)

// Config configures fork sandboxes.
type Config struct {
	Isolation       Isolation         `json:"isolation"`
	Image           string            `json:"image"`
	WorkspaceAccess Access            `json:"workspace_access"`
	MemoryMB        int               `json:"memory_mb"`
	CPUs            float64           `json:"cpus"`
	TimeoutSec      int               `json:"timeout_sec"`
	NetworkEnabled  bool              `json:"network_enabled"`
	Env             map[string]string `json:"env,omitempty"`

	// Container hardening
	ReadOnlyRoot bool     `json:"read_only_root"`
	CapDrop      []string `json:"cap_drop,omitempty"`
	Tmpfs        []string `json:"tmpfs,omitempty"` // e.g. "/tmp", "/tmp:size=64m"
	TmpfsSizeMB  int      `json:"tmpfs_size_mb,omitempty"`
	PidsLimit    int      `json:"pids_limit,omitempty"`
	User         string   `json:"user,omitempty"`

	MaxOutputBytes  int    `json:"max_output_bytes,omitempty"` // cap on captured stdout+stderr (default 1MB)
	SetupCommand    string `json:"setup_command,omitempty"`
	ContainerPrefix string `json:"container_prefix,omitempty"`
	Workdir         string `json:"workdir,omitempty"` // container workdir (default "/workspace")

	// Pruning of containers left behind by crashed runs
	IdleHours        int `json:"idle_hours,omitempty"`
	PruneIntervalMin int `json:"prune_interval_min,omitempty"`
}

// DefaultConfig returns the default sandbox settings.
func DefaultConfig() Config {
	return Config{
		Isolation:        IsolationLocal,
		Image:            "obox-sandbox:bookworm-slim",
		WorkspaceAccess:  AccessRW,
		MemoryMB:         512,
		CPUs:             1.0,
		TimeoutSec:       120,
		NetworkEnabled:   false,
		ReadOnlyRoot:     true,
		CapDrop:          []string{"ALL"},
		Tmpfs:            []string{"/tmp", "/var/tmp", "/run"},
		MaxOutputBytes:   1 << 20,
		ContainerPrefix:  "obox-fork-",
		Workdir:          "/workspace",
		IdleHours:        24,
		PruneIntervalMin: 5,
	}
}

// ContainerWorkdir returns the container-side working directory.
func (c Config) ContainerWorkdir() string {
	if c.Workdir != "" {
		return c.Workdir
	}
	return "/workspace"
}

// ExecResult is the output of a command executed inside a sandbox.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Client executes commands and file operations inside a fork's sandbox.
// Paths given to ReadFile and WriteFile are relative to the fork root;
// workdir given to Exec is likewise root-relative ("" means the root).
type Client interface {
	Exec(ctx context.Context, command, workdir string) (*ExecResult, error)

	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error

	// Root returns the host-side fork root directory.
	Root() string

	// Close releases backend resources (removes the container, if any).
	Close(ctx context.Context) error
}

// ErrUnknownIsolation is returned for an unrecognized isolation mode.
var ErrUnknownIsolation = fmt.Errorf("unknown sandbox isolation mode")
