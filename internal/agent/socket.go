package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/thobiasn/loglens/internal/logview"
	"github.com/thobiasn/loglens/internal/protocol"
)

const maxConnections = 64

// defaultMaxQueryRange is the max query range (seconds) when no retention is set.
const defaultMaxQueryRange = 24 * 60 * 60

// SocketServer answers log queries over a Unix domain socket.
type SocketServer struct {
	store   *Store
	sources []string

	mu            sync.RWMutex
	retentionDays int
	maxLines      int

	listener net.Listener
	path     string
	wg       sync.WaitGroup
	connSem  chan struct{}
	maxFrame int // encoded response size limit, protocol.MaxMessageSize

	ctx    context.Context // cancelled by Stop to close open connections
	cancel context.CancelFunc
}

// NewSocketServer creates a SocketServer. Call Start to begin accepting
// connections.
func NewSocketServer(store *Store, cfg *Config) *SocketServer {
	return &SocketServer{
		store:         store,
		retentionDays: cfg.Storage.RetentionDays,
		maxLines:      cfg.Query.MaxLines,
		sources:       cfg.Sources(),
		connSem:       make(chan struct{}, maxConnections),
		maxFrame:      protocol.MaxMessageSize,
	}
}

// SetLimits updates the query limits taken from config.
func (ss *SocketServer) SetLimits(retentionDays, maxLines int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.retentionDays = retentionDays
	ss.maxLines = maxLines
}

func (ss *SocketServer) limits() (retentionDays, maxLines int) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.retentionDays, ss.maxLines
}

// Start begins listening on the given Unix socket path.
func (ss *SocketServer) Start(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// World-accessible: SSH is the auth gate, not file permissions.
	if err := os.Chmod(path, 0666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	ss.listener = ln
	ss.path = path
	ss.ctx, ss.cancel = context.WithCancel(context.Background())
	ss.wg.Add(1)
	go ss.acceptLoop()
	slog.Info("socket server started", "path", path)
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file.
func (ss *SocketServer) Stop() {
	if ss.listener != nil {
		ss.listener.Close()
		ss.cancel()
	}
	ss.wg.Wait()
	if ss.path != "" {
		os.Remove(ss.path)
	}
	slog.Info("socket server stopped")
}

func (ss *SocketServer) acceptLoop() {
	defer ss.wg.Done()
	for {
		conn, err := ss.listener.Accept()
		if err != nil {
			if !isClosedErr(err) {
				slog.Error("accept error", "error", err)
			}
			return
		}

		select {
		case ss.connSem <- struct{}{}:
		default:
			slog.Warn("connection limit reached, rejecting")
			conn.Close()
			continue
		}

		ss.wg.Add(1)
		go ss.handleConn(conn)
	}
}

func (ss *SocketServer) handleConn(conn net.Conn) {
	defer ss.wg.Done()
	defer func() { <-ss.connSem }()
	defer conn.Close()

	slog.Debug("client connected")
	defer slog.Debug("client disconnected")

	ctx, cancel := context.WithCancel(ss.ctx)
	defer cancel()

	// Stop unblocks ReadMsg by closing the connection.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	c := &connState{ss: ss, conn: conn, ctx: ctx}
	for {
		env, err := protocol.ReadMsg(conn)
		if err != nil {
			if !isEOF(err) && !isClosedErr(err) {
				slog.Warn("read error", "error", err)
			}
			return
		}
		c.dispatch(env)
	}
}

// connState holds per-connection state. Requests on one connection are
// answered in order.
type connState struct {
	ss   *SocketServer
	conn net.Conn
	ctx  context.Context // cancelled when the connection closes
}

func (c *connState) writeMsg(env *protocol.Envelope) {
	err := protocol.WriteMsg(c.conn, env)
	switch {
	case err == nil || isClosedErr(err):
	case errors.Is(err, protocol.ErrTooLarge) && env.Type != protocol.TypeError:
		// Nothing was written; the client still needs an answer.
		slog.Warn("response too large", "type", env.Type, "error", err)
		c.writeMsg(protocol.NewError(env.ID, "response too large"))
	default:
		slog.Warn("write error", "error", err)
	}
}

func (c *connState) sendError(id uint32, msg string) {
	c.writeMsg(protocol.NewError(id, msg))
}

func (c *connState) sendResponse(id uint32, body any) {
	env, err := protocol.NewEnvelope(protocol.TypeResult, id, body)
	if err != nil {
		slog.Error("encode response", "error", err)
		c.sendError(id, "encode failed")
		return
	}
	c.writeMsg(env)
}

func (c *connState) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHello:
		c.hello(env)
	case protocol.TypeQueryLogs:
		c.queryLogs(env)
	default:
		c.sendError(env.ID, fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

func (c *connState) hello(env *protocol.Envelope) {
	var req protocol.Hello
	if env.Body != nil {
		if err := protocol.DecodeBody(env.Body, &req); err != nil {
			c.sendError(env.ID, "invalid hello body")
			return
		}
	}
	if req.Version != 0 && req.Version != protocol.Version {
		c.sendError(env.ID, fmt.Sprintf("unsupported protocol version %d (agent speaks %d)", req.Version, protocol.Version))
		return
	}
	retention, _ := c.ss.limits()
	c.sendResponse(env.ID, &protocol.AgentInfo{
		Version:       protocol.Version,
		RetentionDays: retention,
		Sources:       c.ss.sources,
	})
}

func (c *connState) queryLogs(env *protocol.Envelope) {
	var req protocol.QueryLogsReq
	if err := protocol.DecodeBody(env.Body, &req); err != nil {
		c.sendError(env.ID, "invalid query body")
		return
	}
	if req.Start > req.End {
		c.sendError(env.ID, "start must be <= end")
		return
	}
	retention, maxLines := c.ss.limits()
	maxRange := int64(retention) * 86400
	if maxRange <= 0 {
		maxRange = defaultMaxQueryRange
	}
	if req.End-req.Start > maxRange {
		c.sendError(env.ID, fmt.Sprintf("time range too large (max %dd)", retention))
		return
	}

	minLevel := logview.Debug
	if req.MinLevel != "" {
		lvl, err := logview.ParseLevel(req.MinLevel)
		if err != nil {
			c.sendError(env.ID, err.Error())
			return
		}
		minLevel = lvl
	}

	limit := maxLines
	if req.Limit > 0 && (limit <= 0 || req.Limit < limit) {
		limit = req.Limit
	}

	lines, truncated, err := c.ss.store.QueryLines(c.ctx, LogFilter{
		Start:    req.Start,
		End:      req.End,
		MinLevel: minLevel,
		Limit:    limit,
	})
	if err != nil {
		slog.Error("query logs", "error", err)
		c.sendError(env.ID, "query failed")
		return
	}
	if truncated {
		slog.Debug("query truncated", "start", req.Start, "end", req.End, "limit", limit)
	}
	c.sendLogs(env.ID, lines, truncated)
}

// sendLogs answers a log query with as many of the newest lines as fit in
// one frame. Lines dropped to fit are reported as truncation.
func (c *connState) sendLogs(id uint32, lines []logview.Line, truncated bool) {
	for {
		data, err := encodeLogs(id, lines, truncated)
		if err != nil {
			slog.Error("encode response", "error", err)
			c.sendError(id, "encode failed")
			return
		}
		if len(data) <= c.ss.maxFrame {
			if err := protocol.WriteFrame(c.conn, data); err != nil && !isClosedErr(err) {
				slog.Warn("write error", "error", err)
			}
			return
		}
		if len(lines) == 0 {
			c.sendError(id, "result too large, narrow the range")
			return
		}
		// Shrink by the overshoot with some headroom.
		keep := int(int64(len(lines)) * int64(c.ss.maxFrame) / int64(len(data)) * 9 / 10)
		keep = min(keep, len(lines)-1)
		slog.Debug("trimming query result", "lines", len(lines), "keep", keep, "bytes", len(data))
		lines = lines[len(lines)-keep:]
		truncated = true
	}
}

func encodeLogs(id uint32, lines []logview.Line, truncated bool) ([]byte, error) {
	env, err := protocol.NewEnvelope(protocol.TypeResult, id, &protocol.QueryLogsResp{
		Lines:     protocol.FromLines(lines),
		Truncated: truncated,
	})
	if err != nil {
		return nil, err
	}
	return protocol.EncodeMsg(env)
}

func isClosedErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
