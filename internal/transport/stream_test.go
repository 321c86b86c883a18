// SPDX-License-Identifier: MIT
package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/projection"

	"github.com/vmihailenco/msgpack/v5"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"jsonl", JSONLines, false},
		{"JSON", JSONLines, false},
		{"", JSONLines, false},
		{"msgpack", MsgPack, false},
		{"mp", MsgPack, false},
		{"csv", JSONLines, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

// stepClock advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

func TestStreamSinkJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStreamSink(&buf, JSONLines, stepClock(time.UnixMilli(0), 20*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("NewStreamSink() failed: %v", err)
	}

	rec := testRecord()
	for range 3 {
		if err := s.Send(rec); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
	}
	if buf.Len() != 0 {
		t.Error("output written before Close, expected buffering")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if msg.Sequence != uint64(lines+1) {
			t.Errorf("line %d seq = %d", lines, msg.Sequence)
		}
		if want := int64(lines * 20); msg.Timestamp != want {
			t.Errorf("line %d ts = %d, want %d", lines, msg.Timestamp, want)
		}
		if msg.Features != rec {
			t.Errorf("line %d features = %+v", lines, msg.Features)
		}
		if msg.Point != nil {
			t.Errorf("line %d has a point without a projector", lines)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("wrote %d lines, want 3", lines)
	}
}

func TestStreamSinkMsgPack(t *testing.T) {
	var buf bytes.Buffer
	proj := projection.NewProjector(44100, analysis.ByteDomain)
	s, err := NewStreamSink(&buf, MsgPack, nil, proj)
	if err != nil {
		t.Fatalf("NewStreamSink() failed: %v", err)
	}

	rec := testRecord()
	s.Send(rec)
	s.Send(rec)
	s.Close()

	dec := msgpack.NewDecoder(&buf)
	dec.SetCustomStructTag("json")
	for i := range 2 {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			t.Fatalf("Decode(%d) failed: %v", i, err)
		}
		if msg.Features != rec {
			t.Errorf("message %d features = %+v, want %+v", i, msg.Features, rec)
		}
		if msg.Point == nil || *msg.Point != proj.Project(rec) {
			t.Errorf("message %d point = %v, want %+v", i, msg.Point, proj.Project(rec))
		}
	}

	var extra Message
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() after last message = %v, want EOF", err)
	}
}

func TestStreamSinkClosed(t *testing.T) {
	s, _ := NewStreamSink(io.Discard, JSONLines, nil, nil)
	s.Close()
	if err := s.Send(testRecord()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}

	if _, err := NewStreamSink(io.Discard, Format(9), nil, nil); err == nil {
		t.Error("NewStreamSink() accepted an unknown format")
	}
}
