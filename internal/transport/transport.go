// SPDX-License-Identifier: MIT
/*
Package transport delivers feature records to consumers outside the process.

Every sink receives records on the frame loop goroutine, in registration
order. Sinks must not block: slow consumers drop frames instead of stalling
the loop.
*/
package transport

import (
	"errors"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/projection"

	"github.com/google/uuid"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sink is closed")

// Sink consumes one record per analysis frame.
type Sink interface {
	Send(rec analysis.Record) error
	Close() error
}

// sessionID tags every message from this process, so consumers can tell a
// restart from a dropped frame.
var sessionID = uuid.NewString()

// SessionID returns the identifier stamped on every message.
func SessionID() string {
	return sessionID
}

// Message is the document pushed to consumers for each frame.
type Message struct {
	Session   string            `json:"session"`
	Sequence  uint64            `json:"seq"`
	Timestamp int64             `json:"ts"` // Unix milliseconds, or stream position offline.
	Features  analysis.Record   `json:"features"`
	Point     *projection.Point `json:"point,omitempty"`
}

// NewMessage stamps rec with the session, a sequence number and a time.
func NewMessage(seq uint64, rec analysis.Record, now time.Time) Message {
	return Message{
		Session:   sessionID,
		Sequence:  seq,
		Timestamp: now.UnixMilli(),
		Features:  rec,
	}
}

// rateLimiter drops events closer together than interval. A zero interval
// lets everything through. Not safe for concurrent use.
type rateLimiter struct {
	interval time.Duration
	last     time.Time
}

func (r *rateLimiter) allow(now time.Time) bool {
	if r.interval <= 0 {
		return true
	}
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
