// SPDX-License-Identifier: MIT
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/projection"

	"github.com/vmihailenco/msgpack/v5"
)

// Format selects how a StreamSink encodes messages.
type Format int

const (
	// JSONLines writes one JSON document per line.
	JSONLines Format = iota
	// MsgPack writes a stream of MessagePack maps with the JSON key names.
	MsgPack
)

func (f Format) String() string {
	switch f {
	case JSONLines:
		return "jsonl"
	case MsgPack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// ParseFormat converts a flag value to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "jsonl", "json", "":
		return JSONLines, nil
	case "msgpack", "mp":
		return MsgPack, nil
	default:
		return JSONLines, fmt.Errorf("unknown output format '%s'", name)
	}
}

type encoder interface {
	Encode(v any) error
}

// StreamSink writes every record to w, for offline analysis and piping into
// other tools. Output is buffered; Close flushes it but does not close w.
type StreamSink struct {
	buf       *bufio.Writer
	enc       encoder
	clock     func() time.Time
	projector *projection.Projector
	seq       uint64
	closed    bool
}

var _ Sink = (*StreamSink)(nil)

// NewStreamSink encodes to w. clock supplies each message's timestamp; pass
// nil for wall time. projector may be nil.
func NewStreamSink(w io.Writer, format Format, clock func() time.Time, projector *projection.Projector) (*StreamSink, error) {
	if clock == nil {
		clock = time.Now
	}
	buf := bufio.NewWriter(w)

	var enc encoder
	switch format {
	case JSONLines:
		enc = json.NewEncoder(buf)
	case MsgPack:
		mp := msgpack.NewEncoder(buf)
		mp.SetCustomStructTag("json")
		enc = mp
	default:
		return nil, fmt.Errorf("stream sink: unsupported format %d", format)
	}

	return &StreamSink{buf: buf, enc: enc, clock: clock, projector: projector}, nil
}

// Send encodes one message.
func (s *StreamSink) Send(rec analysis.Record) error {
	if s.closed {
		return ErrClosed
	}
	s.seq++
	msg := NewMessage(s.seq, rec, s.clock())
	if s.projector != nil {
		pt := s.projector.Project(rec)
		msg.Point = &pt
	}
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("encoding frame %d: %w", s.seq, err)
	}
	return nil
}

// Close flushes buffered output.
func (s *StreamSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.buf.Flush()
}
