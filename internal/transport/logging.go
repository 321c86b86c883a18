// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"
)

var sinkLog = log.For("LogSink")

// LoggingSink writes a one-line summary of the latest record at most once per
// interval. It is meant for watching a headless run, not for consuming data.
type LoggingSink struct {
	limiter rateLimiter
	frames  uint64
	closed  atomic.Bool
}

var _ Sink = (*LoggingSink)(nil)

// NewLoggingSink summarises once per interval. A zero interval logs every
// frame.
func NewLoggingSink(interval time.Duration) *LoggingSink {
	sinkLog.Infof("Summarising features every %s", interval)
	return &LoggingSink{limiter: rateLimiter{interval: interval}}
}

// Frames is the number of records received so far.
func (l *LoggingSink) Frames() uint64 {
	return l.frames
}

// Send records rec and logs it when the interval has elapsed.
func (l *LoggingSink) Send(rec analysis.Record) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.frames++
	if !l.limiter.allow(time.Now()) {
		return nil
	}
	sinkLog.Infof("frame=%d rms=%.3f peak=%.3f centroid=%.0fHz pitch=%.1fHz entropy=%.2f tonality=%.2f flux=%.2f",
		l.frames, rec.RMS, rec.Peak, rec.SpectralCentroidHz, rec.PitchHz,
		rec.SpectralEntropy, rec.Tonality, rec.SpectralFlux)
	return nil
}

// Close stops further summaries.
func (l *LoggingSink) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		sinkLog.Infof("Closed after %d frames", l.frames)
	}
	return nil
}
