package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portmonhq/portmon/internal/logging"
	"github.com/portmonhq/portmon/internal/scheduler"
	"github.com/portmonhq/portmon/internal/snapshot"
)

const (
	envConfigPath     = "PORTMON_CONFIG"
	DefaultConfigPath = "/etc/portmon/portmon.yaml"
)

type Config struct {
	LogPath     string        `yaml:"log_path"`
	Interval    time.Duration `yaml:"interval"`
	MaxEntries  int           `yaml:"max_entries"`
	Source      string        `yaml:"source"`
	Command     []string      `yaml:"command"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// Default returns the built-in settings used when no file is present.
func Default() Config {
	return Config{
		LogPath:    logging.DefaultPath,
		Interval:   scheduler.DefaultInterval,
		MaxEntries: snapshot.DefaultCapacity,
		Source:     snapshot.KindCommand,
		Command:    append([]string(nil), snapshot.DefaultCommand...),
	}
}

// Load reads path over the defaults, so a file only needs the keys it
// changes.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when the file
// does not exist.
func LoadOptional(ctx context.Context, path string) (Config, error) {
	cfg, err := Load(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// PathFromEnv returns $PORTMON_CONFIG, or DefaultConfigPath when unset.
func PathFromEnv() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	return LoadOptional(ctx, PathFromEnv())
}

func (c Config) Validate() error {
	if c.LogPath == "" {
		return errors.New("log_path must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	switch c.Source {
	case snapshot.KindCommand:
		if len(c.Command) == 0 || c.Command[0] == "" {
			return errors.New("command must name an executable")
		}
	case snapshot.KindSystem:
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	return nil
}
