package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "sonnet" || cfg.NumForks != 1 || cfg.MaxTurns != 100 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Policy.BlockedPathPrefixes) == 0 {
		t.Error("default policy missing")
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
	// five forks, short leash
	model: "haiku",
	num_forks: 5,
	max_turns: 20,
	logs: { dir: "logs", level: "debug", },
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "haiku" || cfg.NumForks != 5 || cfg.MaxTurns != 20 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel())
	}
	// Untouched sections keep defaults.
	if cfg.MaxWorkers != 10 {
		t.Errorf("max_workers default lost: %d", cfg.MaxWorkers)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{num_forks: 500}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for num_forks=500")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBOX_MODEL", "opus")
	t.Setenv("OBOX_NUM_FORKS", "7")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Model != "opus" || cfg.NumForks != 7 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.Provider.APIKey != "sk-test-123" {
		t.Errorf("api key not picked up from env")
	}
}

func TestEnvOverrides_OTLPEndpointEnablesTracing(t *testing.T) {
	t.Setenv("OBOX_OTLP_ENDPOINT", "collector:4317")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("tracing not enabled: %+v", cfg.Tracing)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "sk-secret"

	cp := cfg.MaskedCopy()
	if cp.Provider.APIKey != secretMask {
		t.Errorf("api key not masked: %q", cp.Provider.APIKey)
	}
	if cfg.Provider.APIKey != "sk-secret" {
		t.Error("original was mutated")
	}

	// Empty secrets stay empty, not masked.
	if empty := Default().MaskedCopy(); empty.Provider.APIKey != "" {
		t.Errorf("empty key masked: %q", empty.Provider.APIKey)
	}
}

func TestSave_StripsMaskedSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")

	cfg := Default()
	cfg.Provider.APIKey = secretMask
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Provider.APIKey != "" {
		t.Errorf("mask persisted to disk: %q", loaded.Provider.APIKey)
	}
}

func TestSave_PreservesRealSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.json5")

	cfg := Default()
	cfg.Provider.APIKey = "sk-real"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Provider.APIKey != "sk-real" {
		t.Errorf("real key lost: %q", loaded.Provider.APIKey)
	}
}
