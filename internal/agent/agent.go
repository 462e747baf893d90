package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const pruneInterval = time.Hour

// Agent ingests logs into the store and serves queries over the socket.
type Agent struct {
	cfg     *Config
	cfgPath string
	store   *Store
	docker  *DockerCollector // nil when docker is disabled
	logs    *LogTailer
	socket  *SocketServer
	now     func() time.Time

	reload    chan *Config
	lastPrune time.Time
}

// New creates an Agent from the given config. cfgPath is kept for Reload.
func New(cfg *Config, cfgPath string) (*Agent, error) {
	store, err := OpenStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store.SetFetchLimit(cfg.Query.MaxLines)

	a := &Agent{
		cfg:     cfg,
		cfgPath: cfgPath,
		store:   store,
		socket:  NewSocketServer(store, cfg),
		now:     time.Now,
		reload:  make(chan *Config, 1),
	}

	if cfg.Docker.Enabled {
		docker, err := NewDockerCollector(&cfg.Docker)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("docker collector: %w", err)
		}
		a.docker = docker
		a.logs = NewLogTailer(docker.Client(), store)
	}
	return a, nil
}

// Reload re-reads the config file and hands it to the Run loop. Safe to
// call from any goroutine (e.g. a SIGHUP handler). A reload that arrives
// while another is pending is dropped.
func (a *Agent) Reload() error {
	cfg, err := LoadConfig(a.cfgPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	select {
	case a.reload <- cfg:
		slog.Info("config reload queued")
	default:
		slog.Warn("config reload already pending, skipping")
	}
	return nil
}

// Run starts the socket server and the collect loop, and blocks until ctx
// is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("agent starting",
		"interval", a.cfg.Collect.Interval.Duration,
		"db", a.cfg.Storage.Path,
		"retention_days", a.cfg.Storage.RetentionDays,
		"sources", a.cfg.Sources(),
	)

	if err := a.socket.Start(a.cfg.Socket.Path); err != nil {
		a.close()
		return fmt.Errorf("start socket: %w", err)
	}

	a.collect(ctx)

	ticker := time.NewTicker(a.cfg.Collect.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			a.collect(ctx)
		case newCfg := <-a.reload:
			a.applyConfig(newCfg)
			ticker.Reset(a.cfg.Collect.Interval.Duration)
		}
	}
}

// applyConfig takes over the fields that can change at runtime and warns
// about the rest.
func (a *Agent) applyConfig(newCfg *Config) {
	if a.cfg.Storage.Path != newCfg.Storage.Path {
		slog.Warn("config reload: storage.path cannot be changed at runtime", "old", a.cfg.Storage.Path, "new", newCfg.Storage.Path)
	}
	if a.cfg.Socket.Path != newCfg.Socket.Path {
		slog.Warn("config reload: socket.path cannot be changed at runtime", "old", a.cfg.Socket.Path, "new", newCfg.Socket.Path)
	}
	if a.cfg.Docker.Enabled != newCfg.Docker.Enabled || a.cfg.Docker.Socket != newCfg.Docker.Socket {
		slog.Warn("config reload: docker.enabled and docker.socket cannot be changed at runtime")
	}

	a.cfg.Storage.RetentionDays = newCfg.Storage.RetentionDays
	a.cfg.Collect.Interval = newCfg.Collect.Interval
	a.cfg.Query.MaxLines = newCfg.Query.MaxLines
	a.cfg.Synthetic = newCfg.Synthetic
	if a.docker != nil {
		a.docker.SetFilters(newCfg.Docker.Include, newCfg.Docker.Exclude)
	}
	a.store.SetFetchLimit(newCfg.Query.MaxLines)
	a.socket.SetLimits(newCfg.Storage.RetentionDays, newCfg.Query.MaxLines)

	slog.Info("config reloaded",
		"interval", a.cfg.Collect.Interval.Duration,
		"retention_days", a.cfg.Storage.RetentionDays,
		"max_lines", a.cfg.Query.MaxLines,
	)
}

func (a *Agent) collect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := a.now()

	if a.cfg.Synthetic.Enabled {
		n, err := ingestSynthetic(ctx, a.store, now, a.cfg.Synthetic.Backfill.Duration)
		if err != nil {
			slog.Error("synthetic ingest failed", "error", err)
		} else if n > 0 {
			slog.Debug("synthetic lines ingested", "lines", n)
		}
	}

	if a.docker != nil {
		containers, err := a.docker.Collect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("docker collect failed", "error", err)
		} else {
			a.logs.Sync(ctx, containers)
		}
	}

	if now.Sub(a.lastPrune) > pruneInterval {
		n, err := a.store.Prune(ctx, a.cfg.Storage.RetentionDays)
		if err != nil {
			slog.Error("prune failed", "error", err)
			return
		}
		a.lastPrune = now
		slog.Info("pruned old logs", "lines", n, "retention_days", a.cfg.Storage.RetentionDays)
	}
}

// shutdown stops the socket first so no query races the store close, then
// lets tailers flush their last batch.
func (a *Agent) shutdown() error {
	slog.Info("agent shutting down")
	a.socket.Stop()
	a.close()
	slog.Info("agent stopped")
	return nil
}

func (a *Agent) close() {
	if a.logs != nil {
		a.logs.Stop()
	}
	if err := a.store.Close(); err != nil {
		slog.Error("close store", "error", err)
	}
	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			slog.Error("close docker", "error", err)
		}
	}
}
