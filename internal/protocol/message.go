package protocol

import "github.com/vmihailenco/msgpack/v5"

// Version is bumped on incompatible wire changes.
const Version = 1

// MsgType identifies the type of a protocol message.
type MsgType string

const (
	// Request-response.
	TypeHello     MsgType = "hello"
	TypeQueryLogs MsgType = "query:logs"
	TypeResult    MsgType = "result"
	TypeError     MsgType = "error"
)

// Envelope is the top-level wire message. Body is decoded in a second pass
// based on the Type field.
type Envelope struct {
	Type MsgType            `msgpack:"type"`
	ID   uint32             `msgpack:"id"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Hello is sent by the client right after connecting.
type Hello struct {
	Version int    `msgpack:"version"`
	Client  string `msgpack:"client,omitempty"`
}

// AgentInfo answers TypeHello.
type AgentInfo struct {
	Version       int      `msgpack:"version"`
	RetentionDays int      `msgpack:"retention_days"`
	Sources       []string `msgpack:"sources,omitempty"` // e.g. "synthetic", "docker"
}

// QueryLogsReq asks for lines in [Start, End) at MinLevel or above.
type QueryLogsReq struct {
	Start    int64  `msgpack:"start"`
	End      int64  `msgpack:"end"`
	MinLevel string `msgpack:"min_level,omitempty"`
	Limit    int    `msgpack:"limit,omitempty"`
}

// QueryLogsResp carries lines ordered by timestamp. Truncated is set when
// the agent's row limit cut the result short; the newest lines are kept.
type QueryLogsResp struct {
	Lines     []LogLine `msgpack:"lines"`
	Truncated bool      `msgpack:"truncated,omitempty"`
}

// LogLine is a single log line on the wire.
type LogLine struct {
	TS      int64  `msgpack:"ts"`
	Level   string `msgpack:"level"`
	Msg     string `msgpack:"msg"`
	Replica string `msgpack:"replica"`
}

// ErrorResult is the body of TypeError responses.
type ErrorResult struct {
	Error string `msgpack:"error"`
}
