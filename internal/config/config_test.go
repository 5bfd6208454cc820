package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
env: test
http:
  host: 127.0.0.1
  port: "9090"
auth:
  signer_secret: file-secret
  access_ttl: 5m
session:
  max_failed_attempts: 3
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr())
	}
	if cfg.Auth.SignerSecret != "file-secret" {
		t.Fatalf("unexpected secret: %s", cfg.Auth.SignerSecret)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Session.MaxFailedAttempts != 3 {
		t.Fatalf("unexpected attempts: %d", cfg.Session.MaxFailedAttempts)
	}
	// Defaults fill unset fields.
	if cfg.Auth.RefreshTTL != 336*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.Auth.RefreshTTL)
	}
	if cfg.TOTP.Window != 1 {
		t.Fatalf("unexpected totp window: %d", cfg.TOTP.Window)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
auth:
  signer_secret: file-secret
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SENTRA_SIGNER_SECRET", "env-secret")
	t.Setenv("SENTRA_HTTP_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SignerSecret != "env-secret" {
		t.Fatalf("env should win, got %s", cfg.Auth.SignerSecret)
	}
	if cfg.HTTP.Port != "7070" {
		t.Fatalf("env should win, got %s", cfg.HTTP.Port)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("SENTRA_SIGNER_SECRET", "env-only")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SignerSecret != "env-only" {
		t.Fatalf("unexpected secret: %s", cfg.Auth.SignerSecret)
	}
	if cfg.Session.TTL != 168*time.Hour {
		t.Fatalf("unexpected session ttl: %v", cfg.Session.TTL)
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
