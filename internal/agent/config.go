package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration for TOML string parsing ("10s", "1m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	return nil
}

type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Socket    SocketConfig    `toml:"socket"`
	Docker    DockerConfig    `toml:"docker"`
	Synthetic SyntheticConfig `toml:"synthetic"`
	Collect   CollectConfig   `toml:"collect"`
	Query     QueryConfig     `toml:"query"`
}

type StorageConfig struct {
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

type SocketConfig struct {
	Path string `toml:"path"`
}

type DockerConfig struct {
	Enabled bool     `toml:"enabled"`
	Socket  string   `toml:"socket"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// SyntheticConfig controls the built-in demo log generator.
type SyntheticConfig struct {
	Enabled bool `toml:"enabled"`
	// Backfill is how much history is generated on the first run.
	Backfill Duration `toml:"backfill"`
}

type CollectConfig struct {
	Interval Duration `toml:"interval"`
}

type QueryConfig struct {
	MaxLines int `toml:"max_lines"`
}

// maxQueryLines bounds query.max_lines. Responses over the frame size are
// trimmed further by the socket server.
const maxQueryLines = 50000

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/lib/loglens/loglens.db"
	}
	if cfg.Storage.RetentionDays == 0 {
		cfg.Storage.RetentionDays = 7
	}
	if cfg.Socket.Path == "" {
		cfg.Socket.Path = "/run/loglens/loglens.sock"
	}
	if cfg.Docker.Socket == "" {
		cfg.Docker.Socket = "/var/run/docker.sock"
	}
	if cfg.Synthetic.Backfill.Duration == 0 {
		cfg.Synthetic.Backfill.Duration = time.Hour
	}
	if cfg.Collect.Interval.Duration == 0 {
		cfg.Collect.Interval.Duration = 5 * time.Second
	}
	if cfg.Query.MaxLines == 0 {
		cfg.Query.MaxLines = 20000
	}
}

func validate(cfg *Config) error {
	if cfg.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be >= 1, got %d", cfg.Storage.RetentionDays)
	}
	if cfg.Collect.Interval.Duration < 1*time.Second {
		return fmt.Errorf("collect interval must be >= 1s, got %s", cfg.Collect.Interval.Duration)
	}
	if cfg.Synthetic.Backfill.Duration < 0 {
		return fmt.Errorf("synthetic backfill must be >= 0, got %s", cfg.Synthetic.Backfill.Duration)
	}
	if cfg.Synthetic.Backfill.Duration > time.Duration(cfg.Storage.RetentionDays)*24*time.Hour {
		return fmt.Errorf("synthetic backfill %s exceeds retention of %dd", cfg.Synthetic.Backfill.Duration, cfg.Storage.RetentionDays)
	}
	if cfg.Query.MaxLines < 1 || cfg.Query.MaxLines > maxQueryLines {
		return fmt.Errorf("query max_lines must be 1-%d, got %d", maxQueryLines, cfg.Query.MaxLines)
	}
	if !cfg.Docker.Enabled && !cfg.Synthetic.Enabled {
		return errors.New("no log source enabled (set docker.enabled or synthetic.enabled)")
	}
	for _, p := range append(cfg.Docker.Include, cfg.Docker.Exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("docker filter %q: %w", p, err)
		}
	}
	return nil
}

// Sources lists the enabled log sources by name.
func (cfg *Config) Sources() []string {
	var out []string
	if cfg.Synthetic.Enabled {
		out = append(out, "synthetic")
	}
	if cfg.Docker.Enabled {
		out = append(out, "docker")
	}
	return out
}
