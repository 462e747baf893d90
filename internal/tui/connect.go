package tui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/thobiasn/loglens/internal/protocol"
)

// Conn is an agent connection, possibly running through an SSH tunnel.
type Conn struct {
	*Client
	Info   *protocol.AgentInfo
	tunnel *Tunnel
}

// Connect dials the agent described by cfg and performs the hello
// handshake. A non-empty Host goes through an SSH tunnel.
func Connect(ctx context.Context, cfg ServerConfig) (*Conn, error) {
	socket := cfg.Socket
	if socket == "" {
		socket = DefaultSocket
	}

	var tun *Tunnel
	if cfg.Host != "" {
		var err error
		tun, err = NewTunnel(cfg.Host, socket, SSHOptions{
			Port:         cfg.Port,
			IdentityFile: expandHome(cfg.IdentityFile),
		})
		if err != nil {
			return nil, fmt.Errorf("ssh tunnel to %s: %w", cfg.Host, err)
		}
		socket = tun.LocalSocket()
	}

	client, err := Dial(socket)
	if err != nil {
		if tun != nil {
			tun.Close()
		}
		return nil, err
	}
	info, err := client.Hello(ctx)
	if err != nil {
		client.Close()
		if tun != nil {
			tun.Close()
		}
		return nil, err
	}
	log.Printf("connected: agent v%d, retention %dd, sources %v", info.Version, info.RetentionDays, info.Sources)
	return &Conn{Client: client, Info: info, tunnel: tun}, nil
}

// Close closes the connection and the tunnel.
func (c *Conn) Close() error {
	err := c.Client.Close()
	if c.tunnel != nil {
		c.tunnel.Close()
	}
	return err
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
