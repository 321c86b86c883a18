// SPDX-License-Identifier: MIT
/*
Package frameloop drives an analysis session at a fixed frame rate and fans
every record out to the registered sinks.

Threading Model:
- Start launches one goroutine that owns the aggregator; Tick is never
  called concurrently with it
- Reset may be called from any goroutine; it takes effect before the next
  frame
- Latest may be read from any goroutine (e.g. a terminal meter)
*/
package frameloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"
	"timbre/internal/source"
	"timbre/internal/transport"
)

// ErrExhausted is returned by Tick once a stepping source has no frames left.
var ErrExhausted = errors.New("source exhausted")

var loopLog = log.For("FrameLoop")

// Config describes one loop.
type Config struct {
	// FrameRate is the number of frames analysed per second while running.
	FrameRate float64
	// Stepper, when set, is advanced once before every frame. Its
	// exhaustion ends the loop.
	Stepper source.Stepper
	// Sinks receive each record in order.
	Sinks []transport.Sink
}

// Loop calls the aggregator once per tick.
type Loop struct {
	agg      *analysis.Aggregator
	stepper  source.Stepper
	sinks    []transport.Sink
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	finished chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker, doneChan and finished during Start/Stop.

	resetPending atomic.Bool
	frames       atomic.Uint64
	failures     atomic.Uint64

	lastMu sync.Mutex
	last   analysis.Record
}

// New builds a stopped loop around agg.
func New(agg *analysis.Aggregator, cfg Config) (*Loop, error) {
	if agg == nil {
		return nil, fmt.Errorf("frame loop: aggregator cannot be nil")
	}
	if !(cfg.FrameRate > 0) {
		return nil, fmt.Errorf("frame loop: frame rate must be positive, got %v", cfg.FrameRate)
	}
	for i, s := range cfg.Sinks {
		if s == nil {
			return nil, fmt.Errorf("frame loop: sink %d is nil", i)
		}
	}

	interval := time.Duration(float64(time.Second) / cfg.FrameRate)
	finished := make(chan struct{})
	close(finished)

	return &Loop{
		agg:      agg,
		stepper:  cfg.Stepper,
		sinks:    cfg.Sinks,
		interval: interval,
		finished: finished,
	}, nil
}

// Interval is the time between frames.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Frames is the number of records produced so far.
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

// Failures is the number of frames the aggregator rejected.
func (l *Loop) Failures() uint64 {
	return l.failures.Load()
}

// Latest returns the most recent record.
func (l *Loop) Latest() analysis.Record {
	l.lastMu.Lock()
	defer l.lastMu.Unlock()
	return l.last
}

// Reset clears the session's flux baseline before the next frame.
func (l *Loop) Reset() {
	l.resetPending.Store(true)
}

// Tick analyses one frame and delivers it to every sink. Sink errors are
// logged and do not stop delivery to the remaining sinks.
func (l *Loop) Tick() (analysis.Record, error) {
	if l.resetPending.Swap(false) {
		l.agg.ResetSession()
		loopLog.Debugf("Session reset")
	}

	if l.stepper != nil && !l.stepper.Step() {
		return analysis.Record{}, ErrExhausted
	}

	rec, err := l.agg.Next()
	if err != nil {
		l.failures.Add(1)
		return analysis.Record{}, fmt.Errorf("analysing frame %d: %w", l.frames.Load()+1, err)
	}
	l.frames.Add(1)

	l.lastMu.Lock()
	l.last = rec
	l.lastMu.Unlock()

	for i, s := range l.sinks {
		if err := s.Send(rec); err != nil {
			loopLog.Warnf("Sink %d rejected frame: %v", i, err)
		}
	}
	return rec, nil
}

// Drain ticks as fast as possible until the stepping source is exhausted or
// ctx is cancelled. It is the offline counterpart of Start.
func (l *Loop) Drain(ctx context.Context) error {
	if l.stepper == nil {
		return fmt.Errorf("frame loop: drain needs a stepping source")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.Tick(); err != nil {
			if errors.Is(err, ErrExhausted) {
				return nil
			}
			loopLog.Warnf("%v", err)
		}
	}
}

// Start begins ticking at the configured frame rate. Calling Start on a
// running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.ticker != nil {
		l.mu.Unlock()
		loopLog.Warnf("Start called but already running")
		return
	}

	l.ticker = time.NewTicker(l.interval)
	l.doneChan = make(chan struct{})
	l.finished = make(chan struct{})
	l.stopOnce = sync.Once{}

	ticker := l.ticker
	doneChan := l.doneChan
	finished := l.finished

	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(finished)
		loopLog.Infof("Running at %s per frame", l.interval)
		for {
			select {
			case <-ticker.C:
				if _, err := l.Tick(); err != nil {
					if errors.Is(err, ErrExhausted) {
						loopLog.Infof("Source exhausted after %d frames", l.frames.Load())
						return
					}
					loopLog.Warnf("%v", err)
				}
			case <-doneChan:
				return
			}
		}
	}()
}

// Done is closed when the running loop exits, either through Stop or because
// the source ran out. It is already closed for a loop that is not running.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished
}

// Stop halts the loop and waits for the in-flight frame to finish. Sinks are
// left open.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.ticker == nil {
		l.mu.Unlock()
		return
	}
	l.stopOnce.Do(func() {
		close(l.doneChan)
		l.ticker.Stop()
		l.ticker = nil
	})
	l.mu.Unlock()

	l.wg.Wait()
	loopLog.Infof("Stopped after %d frames", l.frames.Load())
}

// Close stops the loop and closes every sink.
func (l *Loop) Close() error {
	l.Stop()
	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
