package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
log_path: /var/log/portmon/changes.log
interval: 30s
max_entries: 4096
source: system
metrics_addr: 127.0.0.1:9320
`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "portmon.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.LogPath != "/var/log/portmon/changes.log" {
		t.Fatalf("unexpected log path: %s", cfg.LogPath)
	}
	if cfg.Interval != 30*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.Interval)
	}
	if cfg.MaxEntries != 4096 {
		t.Fatalf("unexpected max entries: %d", cfg.MaxEntries)
	}
	if cfg.Source != "system" || cfg.MetricsAddr != "127.0.0.1:9320" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Command) != 2 || cfg.Command[0] != "ss" {
		t.Fatalf("expected default command to survive, got %v", cfg.Command)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portmon.yaml")
	if err := os.WriteFile(path, []byte("metrics_addr: 127.0.0.1:9320\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	def := Default()
	if cfg.LogPath != def.LogPath || cfg.Interval != def.Interval || cfg.MaxEntries != def.MaxEntries || cfg.Source != def.Source {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative interval": "interval: -5s\n",
		"zero capacity":     "max_entries: 0\n",
		"unknown source":    "source: netstat\n",
		"empty command":     "command: []\n",
		"bad yaml":          "interval: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "portmon.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(context.Background(), path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOptional returned error: %v", err)
	}
	if cfg.LogPath != "/var/log/port_monitor.log" || cfg.Interval != time.Minute || cfg.MaxEntries != 1024 {
		t.Fatalf("expected built-in defaults, got %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "portmon.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(envConfigPath, path)

	cfg, err := LoadFromEnv(ctx)
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}

	if cfg.Interval != 30*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.Interval)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(envConfigPath, "")
	if got := PathFromEnv(); got != DefaultConfigPath {
		t.Fatalf("expected default path got %q", got)
	}
	t.Setenv(envConfigPath, "conf/portmon.yaml")
	if got := PathFromEnv(); got != "conf/portmon.yaml" {
		t.Fatalf("expected env path got %q", got)
	}
}
