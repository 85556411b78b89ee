package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DefaultLookback != 30*24*time.Hour {
		t.Errorf("expected 30 day lookback, got %s", cfg.DefaultLookback)
	}
	if len(cfg.Banks) != 1 || cfg.Banks[0].Kind != "starling" {
		t.Fatalf("expected default starling bank, got %+v", cfg.Banks)
	}
	if cfg.Banks[0].BaseURL == "" {
		t.Error("expected default starling base url")
	}
	if cfg.SyncCycleTimeout != 15*time.Minute {
		t.Errorf("expected 15m sync cycle timeout, got %s", cfg.SyncCycleTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("expected default CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_LOOKBACK", "72h")
	t.Setenv("PROVIDER_TIMEOUT", "2s")
	t.Setenv("SYNC_CONCURRENCY", "2")
	t.Setenv("SYNC_CYCLE_TIMEOUT", "45m")
	t.Setenv("STARLING_TOKEN", "secret-token")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected 9090, got %d", cfg.Port)
	}
	if cfg.DefaultLookback != 72*time.Hour {
		t.Errorf("expected 72h, got %s", cfg.DefaultLookback)
	}
	if cfg.ProviderTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.ProviderTimeout)
	}
	if cfg.SyncConcurrency != 2 {
		t.Errorf("expected 2, got %d", cfg.SyncConcurrency)
	}
	if cfg.SyncCycleTimeout != 45*time.Minute {
		t.Errorf("expected 45m, got %s", cfg.SyncCycleTimeout)
	}
	if cfg.Banks[0].Token != "secret-token" {
		t.Errorf("expected token resolved from env, got %q", cfg.Banks[0].Token)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bankfeed.toml")
	content := `
[[banks]]
name = "personal"
kind = "starling"
token_env = "PERSONAL_TOKEN"
base_url = "http://localhost:9999"

[[names]]
kind = "exact"
pattern = "WATERSTONES"
display_name = "Waterstones"

[categories]
mandatory = ["Rent", "Groceries"]
leisure = ["Books"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERSONAL_TOKEN", "tok")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Banks) != 1 || cfg.Banks[0].Name != "personal" || cfg.Banks[0].Token != "tok" {
		t.Errorf("unexpected banks %+v", cfg.Banks)
	}
	if len(cfg.Names) != 1 || cfg.Names[0].DisplayName != "Waterstones" {
		t.Errorf("unexpected names %+v", cfg.Names)
	}
	if len(cfg.Categories) != 2 || len(cfg.Categories["mandatory"]) != 2 {
		t.Errorf("unexpected categories %+v", cfg.Categories)
	}
}

func TestLoad_RejectsDuplicateBanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bankfeed.toml")
	content := `
[[banks]]
name = "a"
[[banks]]
name = "a"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for duplicate bank names")
	}
}
