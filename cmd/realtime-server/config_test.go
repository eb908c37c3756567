package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goRealtime "github.com/MrEthical07/goRealtime"
)

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	raw := []byte(`
server:
  addr: ":9000"
  dev_login: true
jwt:
  ttl: 5m
rooms:
  policies:
    exam_hall: authenticated
principals:
  - subject: alice
    role: admin
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REALTIME_ADDR", ":9100")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("expected env override, got %q", cfg.Server.Addr)
	}
	if !cfg.Server.DevLogin {
		t.Fatal("expected dev_login from file")
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected default shutdown timeout, got %s", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Principals) != 1 || cfg.Principals[0].Subject != "alice" {
		t.Fatalf("unexpected principals: %+v", cfg.Principals)
	}

	ecfg, err := cfg.engineConfig()
	if err != nil {
		t.Fatalf("engineConfig failed: %v", err)
	}
	if ecfg.JWT.TTL != 5*time.Minute {
		t.Fatalf("expected ttl 5m, got %s", ecfg.JWT.TTL)
	}
	if ecfg.Rooms.Policies["exam_hall"] != goRealtime.PolicyAuthenticated {
		t.Fatalf("expected exam_hall policy, got %q", ecfg.Rooms.Policies["exam_hall"])
	}
	if !ecfg.Metrics.Enabled || !ecfg.Audit.Enabled {
		t.Fatal("expected metrics and audit enabled")
	}
}

func TestEngineConfigRejectsBadPolicy(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.Rooms.Policies = map[string]string{"lobby": "everyone"}
	if _, err := cfg.engineConfig(); err == nil {
		t.Fatal("expected unknown policy to be rejected")
	}
}

func TestEngineConfigRejectsBadKey(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.JWT.PrivateKey = "%%%"
	if _, err := cfg.engineConfig(); err == nil {
		t.Fatal("expected undecodable key to be rejected")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
