package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	body := `
[coordinator]
mailbox_capacity = 8

[simulate]
min_step_delay_ms = 10
max_step_delay_ms = 20

[archive]
path = "relay.db"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Coordinator.MailboxCapacity != 8 {
		t.Fatalf("expected mailbox capacity override, got %d", cfg.Coordinator.MailboxCapacity)
	}
	if cfg.Coordinator.HistoryQueryLimit != 10 {
		t.Fatalf("absent keys must keep defaults, got %d", cfg.Coordinator.HistoryQueryLimit)
	}
	if cfg.Simulate.MinStepDelayMS != 10 || cfg.Simulate.MaxStepDelayMS != 20 {
		t.Fatalf("unexpected simulate config: %+v", cfg.Simulate)
	}
	if cfg.Archive.Path != "relay.db" {
		t.Fatalf("unexpected archive path %q", cfg.Archive.Path)
	}
	if cfg.Path != path {
		t.Fatalf("expected resolved path %s, got %s", path, cfg.Path)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Coordinator.MailboxCapacity != 64 || cfg.Coordinator.HistoryQueryLimit != 10 {
		t.Fatalf("unexpected coordinator defaults: %+v", cfg.Coordinator)
	}
	if cfg.Simulate.MinStepDelayMS != 500 || cfg.Simulate.MaxStepDelayMS != 1500 {
		t.Fatalf("unexpected simulate defaults: %+v", cfg.Simulate)
	}
	if cfg.Monitor.RefreshMS != 500 {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
}
