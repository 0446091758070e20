// ABOUTME: Tests for environment and YAML provider configuration loading.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lookbook-studio/lookbook/tryon"
)

func TestDefaults(t *testing.T) {
	t.Setenv("LOOKBOOK_HOME", t.TempDir())

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind != "127.0.0.1:8090" {
		t.Errorf("Bind = %q", cfg.Bind)
	}
	if cfg.AllowRemote {
		t.Error("AllowRemote defaulted true")
	}
	if len(cfg.Providers) != 0 {
		t.Errorf("Providers = %v without providers.yaml", cfg.Providers)
	}
}

func TestRemoteRequiresToken(t *testing.T) {
	t.Setenv("LOOKBOOK_HOME", t.TempDir())
	t.Setenv("LOOKBOOK_ALLOW_REMOTE", "true")

	if _, err := FromEnv(); !errors.Is(err, ErrRemoteWithoutToken) {
		t.Fatalf("want ErrRemoteWithoutToken, got %v", err)
	}
}

func TestNonLoopbackBindRefused(t *testing.T) {
	t.Setenv("LOOKBOOK_HOME", t.TempDir())
	t.Setenv("LOOKBOOK_BIND", "0.0.0.0:8090")

	if _, err := FromEnv(); !errors.Is(err, ErrNonLoopbackBind) {
		t.Fatalf("want ErrNonLoopbackBind, got %v", err)
	}
}

func TestProvidersYAMLAndEnvKeyOverride(t *testing.T) {
	home := t.TempDir()
	yaml := `
providers:
  fashn:
    api_key: from-yaml
    base_url: https://fashn.example
    poll_interval_seconds: 3
    max_attempts: 40
    rate_per_sec: 2
  kling:
    api_key: kling-key
    timeout_seconds: 180
`
	if err := os.WriteFile(filepath.Join(home, "providers.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOOKBOOK_HOME", home)
	t.Setenv("LOOKBOOK_FASHN_API_KEY", "from-env")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	fashn := cfg.Providers[tryon.ProviderFASHN]
	if fashn.APIKey != "from-env" {
		t.Errorf("env key did not override yaml: %q", fashn.APIKey)
	}
	if fashn.BaseURL != "https://fashn.example" {
		t.Errorf("BaseURL = %q", fashn.BaseURL)
	}
	poller := fashn.Poller()
	if poller.Interval != 3*time.Second || poller.MaxAttempts != 40 {
		t.Errorf("poller = %+v", poller)
	}
	if fashn.Limiter().Limit() != 2 {
		t.Errorf("rate = %v", fashn.Limiter().Limit())
	}

	kling := cfg.Providers[tryon.ProviderKling]
	if kling.Timeout() != 180*time.Second {
		t.Errorf("kling timeout = %v", kling.Timeout())
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	home := t.TempDir()
	os.WriteFile(filepath.Join(home, "providers.yaml"), []byte("providers:\n  acme:\n    api_key: x\n"), 0o644)
	t.Setenv("LOOKBOOK_HOME", home)

	if _, err := FromEnv(); err == nil {
		t.Fatal("unknown provider accepted")
	}
}
