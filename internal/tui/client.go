package tui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/thobiasn/loglens/internal/logview"
	"github.com/thobiasn/loglens/internal/protocol"
)

// ErrConnClosed is returned for requests on a closed or lost connection.
var ErrConnClosed = errors.New("connection closed")

// maxRemoteErrLen caps error text taken from the agent.
const maxRemoteErrLen = 256

// Client is a protocol connection to the agent. Requests may be issued from
// any goroutine; responses are matched to requests by envelope ID.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex // serializes writes
	nextID  atomic.Uint32
	pendMu  sync.Mutex
	pending map[uint32]chan *protocol.Envelope
	done    chan struct{} // closed when readLoop exits
}

var _ logview.LimitedSource = (*Client)(nil)

// Dial connects to the agent socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection and starts reading responses.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan *protocol.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		c.pendMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
	}()

	for {
		env, err := protocol.ReadMsg(c.conn)
		if err != nil {
			return
		}
		c.pendMu.Lock()
		ch, ok := c.pending[env.ID]
		c.pendMu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// Request sends a request and blocks until the response arrives, ctx
// cancels, or the connection dies.
func (c *Client) Request(ctx context.Context, typ protocol.MsgType, body any) (*protocol.Envelope, error) {
	id := c.nextID.Add(1)

	var env *protocol.Envelope
	var err error
	if body != nil {
		env, err = protocol.NewEnvelope(typ, id, body)
	} else {
		env = protocol.NewEnvelopeNoBody(typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan *protocol.Envelope, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	c.mu.Lock()
	err = protocol.WriteMsg(c.conn, env)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnClosed
		}
		if resp.Type == protocol.TypeError {
			var e protocol.ErrorResult
			if err := protocol.DecodeBody(resp.Body, &e); err != nil {
				return nil, errors.New("unknown error from agent")
			}
			msg := e.Error
			if len(msg) > maxRemoteErrLen {
				msg = msg[:maxRemoteErrLen]
			}
			return nil, errors.New(msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnClosed
	}
}

// Hello announces the client and returns what the agent serves.
func (c *Client) Hello(ctx context.Context) (*protocol.AgentInfo, error) {
	resp, err := c.Request(ctx, protocol.TypeHello, &protocol.Hello{Version: protocol.Version, Client: "loglens"})
	if err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}
	var info protocol.AgentInfo
	if err := protocol.DecodeBody(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}
	return &info, nil
}

// QueryLogs runs a log query. truncated reports that the agent's row limit
// dropped the oldest matching lines.
func (c *Client) QueryLogs(ctx context.Context, req *protocol.QueryLogsReq) (lines []logview.Line, truncated bool, err error) {
	resp, err := c.Request(ctx, protocol.TypeQueryLogs, req)
	if err != nil {
		return nil, false, err
	}
	var r protocol.QueryLogsResp
	if err := protocol.DecodeBody(resp.Body, &r); err != nil {
		return nil, false, err
	}
	return protocol.ToLines(r.Lines), r.Truncated, nil
}

// Fetch implements logview.Source.
func (c *Client) Fetch(ctx context.Context, start, end int64, minLevel logview.Level) ([]logview.Line, error) {
	lines, _, err := c.FetchLimited(ctx, start, end, minLevel)
	return lines, err
}

// FetchLimited implements logview.LimitedSource.
func (c *Client) FetchLimited(ctx context.Context, start, end int64, minLevel logview.Level) ([]logview.Line, bool, error) {
	lines, truncated, err := c.QueryLogs(ctx, &protocol.QueryLogsReq{
		Start:    start,
		End:      end,
		MinLevel: minLevel.String(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("query logs: %w", err)
	}
	return lines, truncated, nil
}
