package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerCollector discovers containers whose logs should be followed.
type DockerCollector struct {
	client *client.Client

	mu      sync.RWMutex
	include []string
	exclude []string
}

// NewDockerCollector creates a collector using the configured Docker socket.
func NewDockerCollector(cfg *DockerConfig) (*DockerCollector, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost("unix://"+cfg.Socket),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerCollector{
		client:  c,
		include: cfg.Include,
		exclude: cfg.Exclude,
	}, nil
}

func (d *DockerCollector) Close() error {
	return d.client.Close()
}

// Client returns the underlying Docker client (used by LogTailer).
func (d *DockerCollector) Client() *client.Client {
	return d.client
}

// SetFilters replaces the include/exclude globs.
func (d *DockerCollector) SetFilters(include, exclude []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.include = include
	d.exclude = exclude
}

// Container is a discovered container.
type Container struct {
	ID    string
	Name  string
	State string
}

// Collect lists containers that pass the include/exclude filters.
func (d *DockerCollector) Collect(ctx context.Context) ([]Container, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	d.mu.RLock()
	include, exclude := d.include, d.exclude
	d.mu.RUnlock()

	var out []Container
	for _, c := range list {
		name := containerName(c.Names)
		if !matchFilter(name, include, exclude) {
			continue
		}
		out = append(out, Container{ID: c.ID, Name: name, State: c.State})
	}
	return out, nil
}

// containerName strips Docker's leading "/" from the first name.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// matchFilter applies include globs (any must match when set) and then
// exclude globs (none may match).
func matchFilter(name string, include, exclude []string) bool {
	if len(include) > 0 && !matchAny(name, include) {
		return false
	}
	return !matchAny(name, exclude)
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
