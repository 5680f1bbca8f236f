// Package config loads and persists the obox configuration. Files are
// parsed as JSON5 so hand-edited configs may carry comments and trailing
// commas. Precedence: built-in defaults, then the config file, then
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/titanous/json5"

	"github.com/dinbutler/obox/internal/policy"
	"github.com/dinbutler/obox/internal/providers"
	"github.com/dinbutler/obox/internal/sandbox"
	"github.com/dinbutler/obox/internal/tracing"
)

// DataDir is the per-project state directory, relative to the working
// directory. Fork tools are denied access to it.
const DataDir = ".obox"

// ProviderConfig configures the LLM API client.
type ProviderConfig struct {
	// APIKey, when set, overrides the ANTHROPIC_API_KEY env var and the
	// OS keyring.
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// RateLimitRPS caps chat requests per second across all forks.
	// Zero disables client-side limiting.
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`

	RetryAttempts int `json:"retry_attempts,omitempty"`
	RetryDelaySec int `json:"retry_delay_sec,omitempty"`
}

// LogConfig configures per-fork log files.
type LogConfig struct {
	Dir   string `json:"dir"`
	Level string `json:"level"`
}

// Config is the full obox configuration.
type Config struct {
	mu sync.RWMutex

	Model               string `json:"model"`
	NumForks            int    `json:"num_forks"`
	MaxTurns            int    `json:"max_turns"`
	MaxToolCallsPerTurn int    `json:"max_tool_calls_per_turn"`
	MaxWorkers          int    `json:"max_workers"`

	WorkDir string `json:"work_dir"`
	DBPath  string `json:"db_path"`

	Logs     LogConfig            `json:"logs"`
	Provider ProviderConfig       `json:"provider"`
	Sandbox  sandbox.Config       `json:"sandbox"`
	Policy   policy.Config        `json:"policy"`
	Pricing  providers.PriceTable `json:"pricing,omitempty"`
	Tracing  tracing.Config       `json:"tracing"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Model:               "sonnet",
		NumForks:            1,
		MaxTurns:            100,
		MaxToolCallsPerTurn: 50,
		MaxWorkers:          10,
		WorkDir:             filepath.Join(DataDir, "forks"),
		DBPath:              filepath.Join(DataDir, "runs.db"),
		Logs: LogConfig{
			Dir:   filepath.Join(DataDir, "logs"),
			Level: "info",
		},
		Provider: ProviderConfig{
			RetryAttempts: 3,
			RetryDelaySec: 2,
		},
		Sandbox: sandbox.DefaultConfig(),
		Policy:  policy.DefaultConfig(),
		Pricing: providers.DefaultPrices(),
	}
}

// DefaultPath returns the config file location: ./obox.json5 if present,
// else <DataDir>/config.json5.
func DefaultPath() string {
	if _, err := os.Stat("obox.json5"); err == nil {
		return "obox.json5"
	}
	return filepath.Join(DataDir, "config.json5")
}

// Load reads the config at path, falling back to defaults when the file
// does not exist. Env overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays environment variables onto the config.
// Env vars win over file values.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	applyStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	applyInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	applyStr("ANTHROPIC_API_KEY", &c.Provider.APIKey)
	applyStr("OBOX_BASE_URL", &c.Provider.BaseURL)
	applyStr("OBOX_MODEL", &c.Model)
	applyInt("OBOX_NUM_FORKS", &c.NumForks)
	applyInt("OBOX_MAX_TURNS", &c.MaxTurns)
	applyInt("OBOX_MAX_WORKERS", &c.MaxWorkers)
	applyStr("OBOX_WORK_DIR", &c.WorkDir)
	applyStr("OBOX_DB_PATH", &c.DBPath)
	applyStr("OBOX_LOG_DIR", &c.Logs.Dir)
	applyStr("OBOX_LOG_LEVEL", &c.Logs.Level)

	if v := os.Getenv("OBOX_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("OBOX_SANDBOX"); v != "" {
		c.Sandbox.Isolation = sandbox.Isolation(v)
	}
}

// Validate rejects configs that cannot produce a working run.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.NumForks < 1 || c.NumForks > 100 {
		return fmt.Errorf("num_forks must be between 1 and 100, got %d", c.NumForks)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	switch c.Sandbox.Isolation {
	case sandbox.IsolationLocal, sandbox.IsolationDocker, "":
	default:
		return fmt.Errorf("unknown sandbox isolation: %s", c.Sandbox.Isolation)
	}
	switch c.Logs.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logs.Level)
	}
	return nil
}

// LogLevel parses the configured level. Unrecognized values mean info.
func (c *Config) LogLevel() slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Logs.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Save writes the config as indented JSON. Secrets that still carry the
// display mask are stripped first so a masked copy never round-trips
// into the file.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, cp); err != nil {
		return fmt.Errorf("copy config: %w", err)
	}
	cp.StripMaskedSecrets()

	out, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(out, '\n'), 0600)
}
