// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/audio"
	"timbre/internal/config"
	"timbre/internal/frameloop"
	"timbre/internal/log"
	"timbre/internal/projection"
	"timbre/internal/source"
	"timbre/internal/transport"
	"timbre/internal/transport/udp"
	"timbre/internal/tui"

	"github.com/mattn/go-isatty"
)

// Run executes the command selected in cfg until it completes or ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	switch cfg.Command {
	case config.CommandList:
		return runList(os.Stdout)
	case config.CommandAnalyze:
		return RunAnalyze(ctx, cfg, os.Stdout)
	case config.CommandDevices:
		return runDevices(ctx, cfg)
	case "":
		return RunLive(ctx, cfg)
	default:
		return fmt.Errorf("unknown command '%s'", cfg.Command)
	}
}

func runList(w io.Writer) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()
	return audio.ListDevices(w)
}

func runDevices(ctx context.Context, cfg *config.Config) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	sel, ok, err := tui.RunDevicePicker()
	audio.Terminate()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	live := *cfg
	live.Command = ""
	ApplySelection(&live, sel)
	if err := live.Validate(); err != nil {
		return fmt.Errorf("selected device: %w", err)
	}
	return RunLive(ctx, &live)
}

// ApplySelection copies a picker choice into cfg.
func ApplySelection(cfg *config.Config, sel tui.Selection) {
	cfg.Audio.InputDevice = sel.DeviceID
	cfg.Audio.InputChannels = sel.Channels
	cfg.Audio.SampleRate = sel.SampleRate
}

// RunAnalyze plays cfg.InputFile through the analyser as fast as possible,
// starting cfg.Start into the file, and writes one message per frame to w.
//
// Timestamps are file positions measured from the Unix epoch. Each one is
// the playhead after the frame's hop, which is the newest sample in the
// analysed window, so the first record of a file is stamped one hop in
// rather than at 0. Live capture stamps the same way: at the moment the
// newest samples have arrived.
func RunAnalyze(ctx context.Context, cfg *config.Config, w io.Writer) error {
	fs, err := source.OpenWAV(cfg.InputFile, cfg.Analysis.FrameRate, cfg.AnalyserConfig())
	if err != nil {
		return err
	}

	agg, err := newAggregator(fs, fs.Analyser(), cfg.Domain())
	if err != nil {
		return err
	}

	epoch := time.UnixMilli(0)
	clock := func() time.Time { return epoch.Add(fs.Position()) }
	stream, err := transport.NewStreamSink(w, cfg.OutputFormat(), clock,
		projection.NewProjector(fs.SampleRate(), cfg.Domain()))
	if err != nil {
		return err
	}

	sinks := []transport.Sink{stream}
	if cfg.Transport.LogEnabled {
		sinks = append(sinks, transport.NewLoggingSink(cfg.Transport.LogInterval))
	}

	loop, err := frameloop.New(agg, frameloop.Config{
		FrameRate: cfg.Analysis.FrameRate,
		Stepper:   fs,
		Sinks:     sinks,
	})
	if err != nil {
		return errors.Join(err, stream.Close())
	}

	if cfg.Start > 0 {
		seekTo(loop, fs, cfg.Start)
	}

	drainErr := loop.Drain(ctx)
	closeErr := loop.Close()
	log.Infof("Analyze: %d frames from %s (%s, %d failed)",
		loop.Frames(), cfg.InputFile, fs.Duration(), loop.Failures())
	return errors.Join(drainErr, closeErr)
}

// seekTo jumps fs to pos and drops the session's flux baseline, so the first
// record after the jump does not compare spectra from either side of it.
func seekTo(loop *frameloop.Loop, fs *source.FileSource, pos time.Duration) {
	fs.Seek(pos)
	loop.Reset()
	log.Debugf("Analyze: seeked to %s", fs.Position())
}

// newAggregator opens an analysis session matching a's geometry.
func newAggregator(src analysis.Source, a *source.Analyser, domain analysis.Domain) (*analysis.Aggregator, error) {
	st, err := analysis.NewState(analysis.Config{
		BinCount:    a.BinCount(),
		SampleCount: a.Config().FFTSize,
		SampleRate:  src.SampleRate(),
		Domain:      domain,
	})
	if err != nil {
		return nil, err
	}
	return analysis.NewAggregator(src, st)
}

// buildSinks opens every enabled live sink. On error the sinks already
// opened are closed.
func buildSinks(cfg *config.Config, projector *projection.Projector) ([]transport.Sink, error) {
	var sinks []transport.Sink
	fail := func(err error) ([]transport.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if cfg.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketSink(cfg.Transport.WebSocketAddress, cfg.Transport.WebSocketInterval, projector)
		if err != nil {
			return fail(fmt.Errorf("starting websocket sink: %w", err))
		}
		sinks = append(sinks, ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		pub, err := udp.NewPublisher(sender, cfg.Transport.UDPSendInterval)
		if err != nil {
			sender.Close()
			return fail(err)
		}
		sinks = append(sinks, pub)
	}

	if cfg.Transport.LogEnabled {
		sinks = append(sinks, transport.NewLoggingSink(cfg.Transport.LogInterval))
	}

	return sinks, nil
}

// RunLive captures the configured input device and streams records to the
// enabled sinks until ctx is cancelled or the meter is closed.
//
// 1. Startup Phase (Cold Path):
//   - Initialize PortAudio
//   - Build the analyser, engine, analysis session and sinks
//
// 2. Concurrent Phase (Hot Path):
//   - The PortAudio callback feeds the analyser
//   - The frame loop analyses one frame per tick
//
// 3. Shutdown Phase (Cold Path):
//   - Stop the frame loop, then the stream, then close the sinks
func RunLive(ctx context.Context, cfg *config.Config) (err error) {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	analyser, err := source.NewAnalyser(cfg.AnalyserConfig())
	if err != nil {
		return err
	}

	engine, err := audio.NewEngine(cfg.Audio, analyser)
	if err != nil {
		return err
	}

	agg, err := newAggregator(analyser, analyser, cfg.Domain())
	if err != nil {
		return err
	}

	sinks, err := buildSinks(cfg, projection.NewProjector(cfg.Audio.SampleRate, cfg.Domain()))
	if err != nil {
		return err
	}

	loop, err := frameloop.New(agg, frameloop.Config{
		FrameRate: cfg.Analysis.FrameRate,
		Sinks:     sinks,
	})
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return err
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================
	// Deferred so every exit path below releases the stream and sinks.
	defer func() {
		loop.Stop()
		if closeErr := engine.Close(); closeErr != nil {
			log.Errorf("Error closing audio engine: %v", closeErr)
		}
		if n := engine.WriteErrors(); n > 0 {
			log.Warnf("Engine: %d recording writes failed", n)
		}
		err = errors.Join(err, loop.Close())
	}()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// CRITICAL: Start of real-time audio processing
	if err := engine.StartInputStream(); err != nil {
		return err
	}

	if cfg.Recording.Enabled {
		name := audio.RecordingName(cfg.Recording.OutputDir, time.Now())
		if err := engine.StartRecording(name, cfg.Recording.BitDepth); err != nil {
			return err
		}
	}

	loop.Start()

	if !cfg.Headless && isatty.IsTerminal(os.Stdout.Fd()) {
		return tui.RunMeter(ctx, loop, cfg.Audio.SampleRate)
	}

	log.Infof("Live: Streaming %s (interrupt to stop)", sinkSummary(cfg))
	select {
	case <-ctx.Done():
	case <-loop.Done():
	}
	return nil
}

func sinkSummary(cfg *config.Config) string {
	var names []string
	if cfg.Transport.WebSocketEnabled {
		names = append(names, "ws://"+cfg.Transport.WebSocketAddress+transport.WebSocketPath)
	}
	if cfg.Transport.UDPEnabled {
		names = append(names, "udp://"+cfg.Transport.UDPTargetAddress)
	}
	if cfg.Transport.LogEnabled {
		names = append(names, "log")
	}
	if len(names) == 0 {
		return "to no sinks"
	}
	return fmt.Sprintf("to %v", names)
}
