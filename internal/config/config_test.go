package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddress != defaultListenAddress {
		t.Fatalf("expected default listen address %s, got %s", defaultListenAddress, cfg.ListenAddress)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", defaultLogLevel, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if cfg.SendBufferSize != defaultSendBufferSize {
		t.Fatalf("expected default send buffer %d, got %d", defaultSendBufferSize, cfg.SendBufferSize)
	}
	if cfg.Store.Path != defaultStorePath {
		t.Fatalf("expected default store path %s, got %s", defaultStorePath, cfg.Store.Path)
	}
	if cfg.Admin.Address != defaultAdminAddress {
		t.Fatalf("expected default admin address %s, got %s", defaultAdminAddress, cfg.Admin.Address)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
listen_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
send_buffer_size: 64
admin:
  address: "127.0.0.1:7002"
store:
  path: "/tmp/chat.db"
  seed_demo: true
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATRELAY_LISTEN_ADDRESS", ":6000")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddress != ":6000" {
		t.Fatalf("expected env override for listen address, got %s", cfg.ListenAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Fatalf("expected grace 5s, got %s", cfg.ShutdownGracePeriod)
	}
	if cfg.SendBufferSize != 64 {
		t.Fatalf("expected send buffer 64, got %d", cfg.SendBufferSize)
	}
	if cfg.Admin.Address != "127.0.0.1:7002" {
		t.Fatalf("expected admin address from file, got %s", cfg.Admin.Address)
	}
	if cfg.Store.Path != "/tmp/chat.db" {
		t.Fatalf("expected store path from file, got %s", cfg.Store.Path)
	}
	if !cfg.Store.SeedDemo {
		t.Fatal("expected seed_demo from file")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("shutdown_grace_period: \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
