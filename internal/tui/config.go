package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"

	"github.com/thobiasn/loglens/internal/logview"
)

// Duration wraps time.Duration for TOML string parsing ("5s", "1m").
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

// ServerConfig describes how to reach the agent.
type ServerConfig struct {
	Host         string `toml:"host"`          // user@host (SSH), empty for local
	Socket       string `toml:"socket"`        // agent socket path
	Port         int    `toml:"port"`          // SSH port (default: 22)
	IdentityFile string `toml:"identity_file"` // path to SSH private key
}

// DisplayConfig controls the viewer defaults.
type DisplayConfig struct {
	Range        string   `toml:"range"`         // initial range: 1m, 5m, 1h, 24h, 7d
	Timezone     string   `toml:"timezone"`      // IANA name, empty for local
	PollInterval Duration `toml:"poll_interval"` // refresh cadence
	FetchTimeout Duration `toml:"fetch_timeout"` // per-request deadline
}

// ThemeConfig holds optional color overrides. Empty strings keep the
// defaults. Values can be ANSI numbers ("1"), 256-palette numbers ("208"),
// or hex ("#ff0000").
type ThemeConfig struct {
	Fg      string `toml:"fg"`
	Muted   string `toml:"muted"`
	Accent  string `toml:"accent"`
	Live    string `toml:"live"`
	Banner  string `toml:"banner"`
	Debug   string `toml:"debug"`
	Info    string `toml:"info"`
	Warning string `toml:"warning"`
	Error   string `toml:"error"`
}

// Config is the client-side configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Display DisplayConfig `toml:"display"`
	Theme   ThemeConfig   `toml:"theme"`
}

// DefaultSocket is where the agent listens unless configured otherwise.
const DefaultSocket = "/run/loglens/loglens.sock"

// DefaultFetchTimeout bounds a single fetch.
const DefaultFetchTimeout = 10 * time.Second

// DefaultConfigPath returns $XDG_CONFIG_HOME/loglens/config.toml,
// falling back to ~/.config/loglens/config.toml if unset.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "loglens", "config.toml")
}

const defaultConfigContent = `# loglens viewer configuration.
#
# [server]
# socket = "/run/loglens/loglens.sock"
# host = "user@example.com"        # connect through an SSH tunnel
# port = 22
# identity_file = "~/.ssh/id_ed25519"
#
# [display]
# range = "5m"                     # 1m, 5m, 1h, 24h, 7d
# timezone = ""                    # e.g. "Europe/Oslo", empty for local
# poll_interval = "5s"
# fetch_timeout = "10s"
#
# [theme]
# Colors are ANSI numbers, 256-palette numbers, or hex values.
# fg = "7"
# muted = "8"
# accent = "14"
# live = "10"
# banner = "1"
# debug = "8"        # gray
# info = "12"        # blue
# warning = "208"    # orange
# error = "9"        # red
`

// EnsureDefaultConfig creates the default config file if it does not exist.
// Returns the path to the config file.
func EnsureDefaultConfig(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
		return "", fmt.Errorf("write default config: %w", err)
	}
	return path, nil
}

// LoadConfig reads and parses a TOML client config file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Socket == "" {
		cfg.Server.Socket = DefaultSocket
	}
	if cfg.Display.Range == "" {
		cfg.Display.Range = logview.DefaultRange.Short()
	}
	if cfg.Display.PollInterval.Duration == 0 {
		cfg.Display.PollInterval.Duration = logview.PollInterval
	}
	if cfg.Display.FetchTimeout.Duration == 0 {
		cfg.Display.FetchTimeout.Duration = DefaultFetchTimeout
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := logview.ParseRange(c.Display.Range); err != nil {
		return fmt.Errorf("display.range: %w", err)
	}
	if c.Display.PollInterval.Duration < time.Second {
		return fmt.Errorf("display.poll_interval must be >= 1s, got %s", c.Display.PollInterval.Duration)
	}
	if c.Display.FetchTimeout.Duration <= 0 {
		return fmt.Errorf("display.fetch_timeout must be > 0, got %s", c.Display.FetchTimeout.Duration)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// InitialRange returns the configured start range.
func (c *Config) InitialRange() logview.Range {
	r, err := logview.ParseRange(c.Display.Range)
	if err != nil {
		return logview.DefaultRange
	}
	return r
}

// Location returns the display time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Display.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("display.timezone: %w", err)
	}
	return loc, nil
}

// BuildTheme returns DefaultTheme with any non-empty ThemeConfig fields
// applied as overrides.
func BuildTheme(tc ThemeConfig) Theme {
	t := DefaultTheme()
	override := func(dst *lipgloss.Color, src string) {
		if src != "" {
			*dst = lipgloss.Color(src)
		}
	}
	override(&t.Fg, tc.Fg)
	override(&t.Muted, tc.Muted)
	override(&t.Accent, tc.Accent)
	override(&t.Live, tc.Live)
	override(&t.Banner, tc.Banner)
	override(&t.Debug, tc.Debug)
	override(&t.Info, tc.Info)
	override(&t.Warning, tc.Warning)
	override(&t.Error, tc.Error)
	return t
}
