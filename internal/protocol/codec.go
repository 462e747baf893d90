package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxMessageSize is the maximum allowed payload size (8 MB).
const MaxMessageSize = 8 * 1024 * 1024

const headerSize = 4

// ErrTooLarge is returned for frames over MaxMessageSize.
var ErrTooLarge = errors.New("message too large")

// WriteMsg writes a length-prefixed msgpack envelope to w as a single Write,
// so frames from concurrent writers sharing a lock never interleave.
func WriteMsg(w io.Writer, env *Envelope) error {
	data, err := EncodeMsg(env)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// EncodeMsg marshals env into a frame payload without checking its size.
func EncodeMsg(env *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// WriteFrame writes an encoded envelope with its length prefix. Payloads
// over MaxMessageSize are rejected with ErrTooLarge before anything is
// written.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), MaxMessageSize)
	}

	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[headerSize:], data)
	_, err := w.Write(frame)
	return err
}

// ReadMsg reads a length-prefixed msgpack envelope from r.
func ReadMsg(r io.Reader) (*Envelope, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, MaxMessageSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// EncodeBody marshals v into a msgpack.RawMessage suitable for Envelope.Body.
func EncodeBody(v any) (msgpack.RawMessage, error) {
	return msgpack.Marshal(v)
}

// DecodeBody unmarshals an Envelope.Body into v.
func DecodeBody(body msgpack.RawMessage, v any) error {
	return msgpack.Unmarshal(body, v)
}

// NewEnvelope creates an Envelope with the given type, ID, and body.
func NewEnvelope(typ MsgType, id uint32, body any) (*Envelope, error) {
	raw, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, ID: id, Body: raw}, nil
}

// NewEnvelopeNoBody creates an Envelope with no body (nil Body).
func NewEnvelopeNoBody(typ MsgType, id uint32) *Envelope {
	return &Envelope{Type: typ, ID: id}
}

// NewError creates a TypeError envelope answering request id.
func NewError(id uint32, msg string) *Envelope {
	env, err := NewEnvelope(TypeError, id, &ErrorResult{Error: msg})
	if err != nil {
		// ErrorResult always encodes.
		return &Envelope{Type: TypeError, ID: id}
	}
	return env
}
