// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"timbre/internal/analysis"
	"timbre/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFile reports input the WAV decoder cannot read.
var ErrUnsupportedFile = errors.New("unsupported audio file")

// Stepper is implemented by sources that move through time on demand rather
// than being fed by a capture callback.
type Stepper interface {
	// Step advances one frame. It returns false once the source is exhausted.
	Step() bool
}

// FileSource plays a decoded mono signal through an Analyser, advancing the
// playhead by sampleRate/frameRate samples per frame.
type FileSource struct {
	analyser   *Analyser
	samples    []float64
	sampleRate float64
	hop        int
	playhead   int
}

var (
	_ analysis.Source = (*FileSource)(nil)
	_ Stepper         = (*FileSource)(nil)
)

// OpenWAV decodes the file at path and wraps it in a FileSource.
func OpenWAV(path string, frameRate float64, cfg AnalyserConfig) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, sampleRate, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("Source: Loaded %s (%d samples, %.0f Hz, %s)",
		path, len(samples), sampleRate, durationOf(len(samples), sampleRate))

	return NewFileSource(samples, sampleRate, frameRate, cfg)
}

// DecodeWAV reads a PCM WAV stream and returns its mono sum, scaled to
// [-1,1], together with the file's sample rate.
func DecodeWAV(r io.ReadSeeker) ([]float64, float64, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav file: %w", ErrUnsupportedFile)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding pcm: %v: %w", err, ErrUnsupportedFile)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("missing format: %w", ErrUnsupportedFile)
	}

	samples, err := MonoSum(buf)
	if err != nil {
		return nil, 0, err
	}
	return samples, float64(buf.Format.SampleRate), nil
}

// MonoSum averages the interleaved channels of buf into one signal in [-1,1].
// 8-bit data is unsigned and centred at 128, wider depths are signed.
func MonoSum(buf *audio.IntBuffer) ([]float64, error) {
	depth := buf.SourceBitDepth
	var offset, scale float64
	switch depth {
	case 8:
		offset, scale = 128, 128
	case 16, 24, 32:
		offset, scale = 0, math.Exp2(float64(depth-1))
	default:
		return nil, fmt.Errorf("bit depth %d: %w", depth, ErrUnsupportedFile)
	}

	chans := buf.Format.NumChannels
	frames := len(buf.Data) / chans
	out := make([]float64, frames)
	for i := range out {
		var sum float64
		for c := range chans {
			sum += (float64(buf.Data[i*chans+c]) - offset) / scale
		}
		out[i] = sum / float64(chans)
	}
	return out, nil
}

// NewFileSource wraps an already decoded mono signal. cfg.SampleRate is
// replaced by sampleRate.
func NewFileSource(samples []float64, sampleRate, frameRate float64, cfg AnalyserConfig) (*FileSource, error) {
	if !(sampleRate > 0) {
		return nil, fmt.Errorf("sample rate %.1f: %w", sampleRate, ErrUnsupportedFile)
	}
	if !(frameRate > 0) {
		return nil, fmt.Errorf("frame rate %.1f: %w", frameRate, ErrInvalidAnalyser)
	}
	cfg.SampleRate = sampleRate
	a, err := NewAnalyser(cfg)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		analyser:   a,
		samples:    samples,
		sampleRate: sampleRate,
		hop:        max(int(math.Round(sampleRate/frameRate)), 1),
	}, nil
}

// Step feeds the next hop of samples into the analyser.
func (s *FileSource) Step() bool {
	if s.Done() {
		return false
	}
	end := min(s.playhead+s.hop, len(s.samples))
	s.analyser.Write(s.samples[s.playhead:end])
	s.playhead = end
	return true
}

// Done reports whether the playhead has reached the end of the signal.
func (s *FileSource) Done() bool {
	return s.playhead >= len(s.samples)
}

// Seek moves the playhead and refills the analyser window from the samples
// just before it. Smoothing history is dropped; callers must also reset the
// analysis session so flux is not measured across the jump.
func (s *FileSource) Seek(pos time.Duration) {
	target := int(pos.Seconds() * s.sampleRate)
	target = max(0, min(target, len(s.samples)))

	s.analyser.Reset()
	start := max(0, target-s.analyser.Config().FFTSize)
	s.analyser.Write(s.samples[start:target])
	s.playhead = target
}

// Position is the playhead time.
func (s *FileSource) Position() time.Duration {
	return durationOf(s.playhead, s.sampleRate)
}

// Duration is the length of the whole signal.
func (s *FileSource) Duration() time.Duration {
	return durationOf(len(s.samples), s.sampleRate)
}

// Hop is the number of samples consumed per Step.
func (s *FileSource) Hop() int {
	return s.hop
}

// Analyser exposes the analyser for geometry queries.
func (s *FileSource) Analyser() *Analyser {
	return s.analyser
}

// Spectrum implements analysis.Source.
func (s *FileSource) Spectrum() analysis.SpectrumFrame {
	return s.analyser.Spectrum()
}

// Waveform implements analysis.Source.
func (s *FileSource) Waveform() analysis.WaveformFrame {
	return s.analyser.Waveform()
}

// SampleRate implements analysis.Source.
func (s *FileSource) SampleRate() float64 {
	return s.sampleRate
}

func durationOf(samples int, sampleRate float64) time.Duration {
	if !(sampleRate > 0) {
		return 0
	}
	return time.Duration(float64(samples) / sampleRate * float64(time.Second))
}
