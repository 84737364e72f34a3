package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTOMLConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultTOMLConfig()
	defaults := DefaultConfig()

	if cfg.Server.ListenAddr != defaults.ListenAddr {
		t.Fatalf("expected listen addr %s, got %s", defaults.ListenAddr, cfg.Server.ListenAddr)
	}

	if cfg.Server.TranscriptDB != "" {
		t.Fatalf("expected transcript to be disabled by default, got %q", cfg.Server.TranscriptDB)
	}

	if cfg.Limits.SendQueueSize != defaults.SendQueueSize {
		t.Fatalf("expected send queue size %d, got %d", defaults.SendQueueSize, cfg.Limits.SendQueueSize)
	}
}

func TestToConfigMapsSettings(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.ListenAddr = "127.0.0.1:9000"
	cfg.Server.TranscriptDB = " /tmp/transcript.db "
	cfg.Limits.MaxMessageLength = 10

	serverCfg := cfg.ToConfig()

	if serverCfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("expected ListenAddr 127.0.0.1:9000, got %s", serverCfg.ListenAddr)
	}

	if serverCfg.TranscriptDB != "/tmp/transcript.db" {
		t.Fatalf("expected trimmed TranscriptDB, got %q", serverCfg.TranscriptDB)
	}

	if serverCfg.MaxMessageLength != 10 {
		t.Fatalf("expected MaxMessageLength 10, got %d", serverCfg.MaxMessageLength)
	}
}

func TestToConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	serverCfg := cfg.ToConfig()

	if serverCfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", serverCfg)
	}
}

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg != DefaultTOMLConfig() {
		t.Fatalf("expected default config, got %+v", cfg)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}

	// A second load reads the file back
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading config failed: %v", err)
	}
	if again != cfg {
		t.Fatalf("expected %+v after reload, got %+v", cfg, again)
	}
}

func TestLoadConfigRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte("[server\nlisten_addr = "), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
