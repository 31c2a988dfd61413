package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port=8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.CallAttemptsPerMinute != 20 {
		t.Errorf("expected call_attempts_per_minute=20, got %d", cfg.Server.CallAttemptsPerMinute)
	}
	if len(cfg.ICE.STUNServers) == 0 {
		t.Error("expected a default STUN server")
	}
	if cfg.StorageEnabled() {
		t.Error("storage should be disabled without an endpoint")
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	path := filepath.Join(t.TempDir(), "quickchat.yaml")
	content := `
server:
  port: "9090"
  session_secret: from-file
ice:
  stun_servers:
    - stun:one.example:3478
    - stun:two.example:3478
storage:
  endpoint: minio:9000
  access_key: key
  bucket: pics
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port=9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.SessionSecret != "from-file" {
		t.Errorf("expected session secret from file, got %s", cfg.Server.SessionSecret)
	}
	if len(cfg.ICE.STUNServers) != 2 {
		t.Errorf("expected 2 STUN servers, got %v", cfg.ICE.STUNServers)
	}
	if !cfg.StorageEnabled() {
		t.Error("expected storage to be enabled")
	}
	// Unset fields keep their defaults.
	if cfg.Server.CallAttemptsPerMinute != 20 {
		t.Errorf("expected default call limit, got %d", cfg.Server.CallAttemptsPerMinute)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickchat.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("PORT", "7000")
	t.Setenv("STUN_SERVERS", "stun:a:1,stun:b:2")
	t.Setenv("CALL_ATTEMPTS_PER_MINUTE", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("expected env port 7000, got %s", cfg.Server.Port)
	}
	if len(cfg.ICE.STUNServers) != 2 || cfg.ICE.STUNServers[1] != "stun:b:2" {
		t.Errorf("unexpected STUN servers %v", cfg.ICE.STUNServers)
	}
	if cfg.Server.CallAttemptsPerMinute != 5 {
		t.Errorf("expected call limit 5, got %d", cfg.Server.CallAttemptsPerMinute)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_MissingEnvFileFallsBack(t *testing.T) {
	t.Setenv("QUICKCHAT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.SessionSecret == "" {
		t.Error("expected default session secret")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.SessionSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty session secret")
	}

	cfg = Default()
	cfg.Server.CallAttemptsPerMinute = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative rate limit")
	}
}
