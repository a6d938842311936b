package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	if err := os.WriteFile(path, []byte(`{"backend":{"base_url":"https://maxxit.example"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:8787" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Web3.Network != "mainnet" {
		t.Fatalf("unexpected network %q", cfg.Web3.Network)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chain.yaml") {
		t.Fatalf("unexpected chain config %q", cfg.Web3.ChainConfig)
	}
	if cfg.Backend.Timeout() != 15*time.Second {
		t.Fatalf("unexpected backend timeout %v", cfg.Backend.Timeout())
	}
	if cfg.Storage.Progress.Driver != "memory" || cfg.Storage.Journal.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected drivers: %+v %+v", cfg.Storage, cfg.Events)
	}
	if cfg.Polling.TelegramSeconds != 3 || cfg.Polling.InstanceSeconds != 5 {
		t.Fatalf("unexpected polling defaults: %+v", cfg.Polling)
	}
}

func TestLoadRequiresBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error without backend.base_url")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	env := map[string]string{
		EnvBackendToken:   " token-1 ",
		EnvCrossAppSecret: "relay-secret",
		EnvNetwork:        "TESTNET",
		EnvAPIToken:       "local-token",
	}
	var cfg Config
	cfg.Backend.Token = "from-file"
	cfg.applyEnv(func(key string) string { return env[key] })

	if cfg.Backend.Token != "token-1" {
		t.Fatalf("unexpected token %q", cfg.Backend.Token)
	}
	if cfg.Wallet.CrossApp.Secret != "relay-secret" {
		t.Fatalf("unexpected secret %q", cfg.Wallet.CrossApp.Secret)
	}
	if cfg.Web3.Network != "testnet" {
		t.Fatalf("unexpected network %q", cfg.Web3.Network)
	}
	if cfg.Server.APIToken != "local-token" {
		t.Fatalf("unexpected api token %q", cfg.Server.APIToken)
	}
}
