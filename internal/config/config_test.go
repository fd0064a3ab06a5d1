package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Session.TTL != 10*time.Minute {
		t.Errorf("Session.TTL = %v, want 10m", cfg.Session.TTL)
	}
	if cfg.Webhook.Debounce != 900*time.Millisecond {
		t.Errorf("Webhook.Debounce = %v, want 900ms", cfg.Webhook.Debounce)
	}
	if cfg.Webhook.GoodbyeGrace != 2*time.Second {
		t.Errorf("Webhook.GoodbyeGrace = %v, want 2s", cfg.Webhook.GoodbyeGrace)
	}
	if len(cfg.Webhook.Farewells) != 1 || cfg.Webhook.Farewells[0] != "goodbye" {
		t.Errorf("Webhook.Farewells = %v", cfg.Webhook.Farewells)
	}
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
port: 9090
provider:
  base_url: https://rooms.test
  api_key: from-file
session:
  ttl: 5m
webhook:
  farewells: [goodbye, see you]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICECOACH_PROVIDER_API_KEY", "from-env")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 9090 || cfg.Session.TTL != 5*time.Minute {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Provider.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env override", cfg.Provider.APIKey)
	}
	if len(cfg.Webhook.Farewells) != 2 {
		t.Errorf("Farewells = %v", cfg.Webhook.Farewells)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_MissingCredential(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{BaseURL: "https://rooms.test"}}
	err := cfg.Validate()
	if !errors.Is(err, domain.ErrMissingCredential) || !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Validate = %v, want ErrMissingCredential", err)
	}
}
