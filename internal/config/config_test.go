package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/outbackwave/cdxindex/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.DataDir)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if !cfg.AcceptWrites {
		t.Error("AcceptWrites = false, want true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Port = 0
	var merr *config.MisconfigError
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error")
	} else if !as(err, &merr) {
		t.Fatalf("Validate() error = %v, want *MisconfigError", err)
	}
}

func TestValidateRejectsSecondaryModeWithWrites(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SecondaryMode = true
	cfg.AcceptWrites = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for secondary_mode+accept_writes")
	}
}

func TestResolveFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\nverbose: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := config.DefaultConfig()
	if err := config.Resolve(&cfg, map[string]bool{}, path); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from file", cfg.Port)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true from file")
	}
}

func TestResolveExplicitFlagWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Port = 7000 // simulates a flag the operator passed explicitly
	changed := map[string]bool{"port": true}
	if err := config.Resolve(&cfg, changed, path); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 (explicit flag should win)", cfg.Port)
	}
}

func TestResolveEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CDXINDEX_PORT", "6000")

	cfg := config.DefaultConfig()
	if err := config.Resolve(&cfg, map[string]bool{}, path); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Port != 6000 {
		t.Errorf("Port = %d, want 6000 (env should win over file)", cfg.Port)
	}
}

func TestResolvePropagatesInvalidResult(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = ""
	if err := config.Resolve(&cfg, map[string]bool{}, ""); err == nil {
		t.Fatal("Resolve() = nil, want misconfiguration error for empty data_dir")
	}
}

// as is a tiny errors.As shim to avoid importing errors just for one check.
func as(err error, target **config.MisconfigError) bool {
	if me, ok := err.(*config.MisconfigError); ok {
		*target = me
		return true
	}
	return false
}
