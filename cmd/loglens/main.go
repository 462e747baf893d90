package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thobiasn/loglens/internal/agent"
	"github.com/thobiasn/loglens/internal/logview"
	"github.com/thobiasn/loglens/internal/tui"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "--version" {
		fmt.Println("loglens " + version)
		return
	}

	var err error
	switch {
	case len(os.Args) >= 2 && os.Args[1] == "agent":
		err = runAgent(os.Args[2:])
	case len(os.Args) >= 2 && os.Args[1] == "demo":
		err = runDemo(os.Args[2:])
	default:
		err = runClient(os.Args[1:])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "loglens: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "/etc/loglens/config.toml", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(cfg, *configPath)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	// SIGHUP triggers config reload.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				if err := a.Reload(); err != nil {
					slog.Error("config reload failed", "error", err)
				}
			}
		}
	}()

	return a.Run(ctx)
}

// clientAction holds the viewer flags. Zero values leave the config file
// setting in place.
type clientAction struct {
	configPath string
	socketPath string
	host       string
	remoteSock string
	rangeName  string
	sshOpts    tui.SSHOptions
}

// parseClientArgs parses "loglens [user@host] [flags]".
func parseClientArgs(args []string) (*clientAction, error) {
	fs := flag.NewFlagSet("loglens", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  loglens [user@host] [flags]\n  loglens agent [flags]\n  loglens demo [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	act := &clientAction{}
	fs.StringVar(&act.configPath, "config", "", "path to client config")
	fs.StringVar(&act.socketPath, "socket", "", "path to agent socket (direct connection)")
	fs.StringVar(&act.remoteSock, "remote-socket", "", "remote agent socket path")
	fs.StringVar(&act.rangeName, "range", "", "initial range: 1m, 5m, 1h, 24h, 7d")
	fs.IntVar(&act.sshOpts.Port, "port", 0, "SSH port (default: 22)")
	fs.StringVar(&act.sshOpts.IdentityFile, "identity", "", "SSH identity file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	positional := fs.Arg(0)

	// Go's flag package stops parsing at the first non-flag argument.
	// Re-parse trailing args so "user@host --port 2222" works.
	if rest := fs.Args(); len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return nil, err
		}
	}

	if positional != "" {
		if !strings.Contains(positional, "@") {
			return nil, fmt.Errorf("expected user@host, got %q", positional)
		}
		act.host = positional
	}
	if act.host != "" && act.socketPath != "" {
		return nil, fmt.Errorf("-socket and user@host are mutually exclusive")
	}
	if act.rangeName != "" {
		if _, err := logview.ParseRange(act.rangeName); err != nil {
			return nil, err
		}
	}
	return act, nil
}

// apply overlays the flags on a loaded config.
func (act *clientAction) apply(cfg *tui.Config) {
	switch {
	case act.socketPath != "":
		cfg.Server = tui.ServerConfig{Socket: act.socketPath}
	case act.host != "":
		cfg.Server.Host = act.host
		if act.remoteSock != "" {
			cfg.Server.Socket = act.remoteSock
		}
		if act.sshOpts.Port != 0 {
			cfg.Server.Port = act.sshOpts.Port
		}
		if act.sshOpts.IdentityFile != "" {
			cfg.Server.IdentityFile = act.sshOpts.IdentityFile
		}
	}
	if act.rangeName != "" {
		cfg.Display.Range = act.rangeName
	}
}

// loadClientConfig reads the config file, creating the commented default
// on first run, and applies the flags.
func loadClientConfig(act *clientAction) (*tui.Config, error) {
	path, err := tui.EnsureDefaultConfig(act.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := tui.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	act.apply(cfg)
	return cfg, nil
}

func runClient(args []string) error {
	act, err := parseClientArgs(args)
	if err != nil {
		return err
	}
	cfg, err := loadClientConfig(act)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Display.FetchTimeout.Duration)
	conn, err := tui.Connect(ctx, cfg.Server)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	title := cfg.Server.Host
	if title == "" {
		title = "local"
	}
	return runViewer(conn, tui.Options{
		Range:        cfg.InitialRange(),
		PollInterval: cfg.Display.PollInterval.Duration,
		FetchTimeout: cfg.Display.FetchTimeout.Duration,
		Location:     loc,
		Theme:        tui.BuildTheme(cfg.Theme),
		Title:        title,
	})
}

// runDemo runs the viewer against the in-process synthetic generator.
func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	rangeName := fs.String("range", logview.DefaultRange.Short(), "initial range: 1m, 5m, 1h, 24h, 7d")
	latency := fs.Duration("latency", 100*time.Millisecond, "simulated fetch latency")
	fs.Parse(args)

	r, err := logview.ParseRange(*rangeName)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	return runViewer(agent.NewSynthetic(*latency), tui.Options{
		Range: r,
		Theme: tui.DefaultTheme(),
		Title: "demo",
	})
}

func runViewer(src logview.Source, opts tui.Options) error {
	p := tea.NewProgram(tui.NewApp(src, opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// setupLogging sends the viewer's log output to the file named by
// LOGLENS_DEBUG, or discards it. Writing to stderr would corrupt the
// alt screen.
func setupLogging() (func(), error) {
	path := os.Getenv("LOGLENS_DEBUG")
	if path == "" {
		log.SetOutput(io.Discard)
		return func() {}, nil
	}
	f, err := tea.LogToFile(path, "loglens")
	if err != nil {
		return nil, fmt.Errorf("debug log: %w", err)
	}
	return func() { f.Close() }, nil
}
