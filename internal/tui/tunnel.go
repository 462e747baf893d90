package tui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	tunnelTimeout = 5 * time.Second
	tunnelPoll    = 50 * time.Millisecond
)

// SSHOptions holds optional SSH connection parameters.
type SSHOptions struct {
	Port         int    // SSH port (0 = default)
	IdentityFile string // path to private key (empty = default)
}

// Tunnel forwards a local Unix socket to the agent socket on a remote host
// through `ssh -N -L`.
type Tunnel struct {
	cmd       *exec.Cmd
	localSock string
	stderr    bytes.Buffer
	done      chan error
	execFn    func(name string, args ...string) *exec.Cmd // replaced in tests
}

// NewTunnel starts ssh and blocks until the local socket appears, ssh
// exits, or tunnelTimeout passes.
func NewTunnel(host, remoteSock string, opts SSHOptions) (*Tunnel, error) {
	t := &Tunnel{execFn: exec.Command, done: make(chan error, 1)}
	if err := t.start(host, remoteSock, opts); err != nil {
		return nil, err
	}
	return t, nil
}

// sshArgs builds the ssh command line. Values that ssh would parse as
// options are rejected.
func sshArgs(host, localSock, remoteSock string, opts SSHOptions) ([]string, error) {
	if host == "" || strings.HasPrefix(host, "-") {
		return nil, fmt.Errorf("invalid host: %q", host)
	}
	args := []string{"-N", "-o", "ExitOnForwardFailure=yes"}
	if opts.Port > 0 {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	if opts.IdentityFile != "" {
		if strings.HasPrefix(opts.IdentityFile, "-") {
			return nil, fmt.Errorf("invalid identity file: %q", opts.IdentityFile)
		}
		args = append(args, "-i", opts.IdentityFile)
	}
	return append(args, "-L", localSock+":"+remoteSock, host), nil
}

func (t *Tunnel) start(host, remoteSock string, opts SSHOptions) error {
	dir, err := os.MkdirTemp("", "loglens-tunnel-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	local := filepath.Join(dir, "loglens.sock")

	args, err := sshArgs(host, local, remoteSock, opts)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	t.cmd = t.execFn("ssh", args...)
	t.cmd.Stdin = os.Stdin // passphrase prompts
	t.cmd.Stderr = &t.stderr
	if err := t.cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("start ssh: %w", err)
	}
	go func() { t.done <- t.cmd.Wait() }()

	if err := t.waitSocket(local, tunnelTimeout); err != nil {
		os.RemoveAll(dir)
		return err
	}
	t.localSock = local
	return nil
}

// waitSocket polls for the forwarded socket.
func (t *Tunnel) waitSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-t.done:
			return t.exitErr("ssh exited", err)
		default:
		}
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(tunnelPoll)
	}
	t.cmd.Process.Kill()
	<-t.done
	return t.exitErr("timeout waiting for ssh tunnel", nil)
}

// exitErr prefers what ssh printed over the process status.
func (t *Tunnel) exitErr(what string, err error) error {
	if msg := strings.TrimSpace(t.stderr.String()); msg != "" {
		return fmt.Errorf("%s: %s", what, msg)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return errors.New(what)
}

// LocalSocket returns the path to the local forwarded socket.
func (t *Tunnel) LocalSocket() string {
	return t.localSock
}

// Close terminates ssh and removes the temp socket directory.
func (t *Tunnel) Close() error {
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Signal(os.Interrupt)
		select {
		case <-t.done:
		case <-time.After(3 * time.Second):
			t.cmd.Process.Kill()
			<-t.done
		}
	}
	if t.localSock != "" {
		os.RemoveAll(filepath.Dir(t.localSock))
	}
	return nil
}
