// SPDX-License-Identifier: MIT
/*
Package source produces the per-frame spectrum and waveform buffers the
analysis core consumes.

Analyser mirrors a browser AnalyserNode: mono samples are written into a
ring buffer, and each Spectrum call windows the latest FFTSize samples,
transforms them, applies temporal smoothing and maps decibels onto the
configured value domain. Both the live capture engine and the WAV file
source feed an Analyser.

Thread Safety:
- Write may run on the audio callback thread
- Spectrum and Waveform run on the frame loop goroutine
- A single mutex guards the ring and the output buffers
*/
package source

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"timbre/internal/analysis"
	"timbre/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Browser AnalyserNode defaults.
const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

var (
	// ErrNotPowerOfTwo reports an FFT size the transform cannot use.
	ErrNotPowerOfTwo = errors.New("fft size must be a power of two")

	// ErrInvalidAnalyser reports out-of-range analyser parameters.
	ErrInvalidAnalyser = errors.New("invalid analyser parameters")
)

// AnalyserConfig fixes the analyser geometry and mapping.
type AnalyserConfig struct {
	FFTSize     int             // Window length in samples; power of two.
	SampleRate  float64         // Rate of the samples written, in Hz.
	Smoothing   float64         // Time constant in [0,1): weight of the previous frame.
	MinDecibels float64         // Maps to the bottom of the domain.
	MaxDecibels float64         // Maps to the top of the domain.
	Domain      analysis.Domain // Value range of the produced buffers.
}

// DefaultAnalyserConfig returns the browser defaults at the given rate.
func DefaultAnalyserConfig(sampleRate float64) AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     DefaultFFTSize,
		SampleRate:  sampleRate,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Domain:      analysis.ByteDomain,
	}
}

// Validate checks the configuration without allocating anything.
func (c AnalyserConfig) Validate() error {
	if !bitint.IsPowerOfTwo(c.FFTSize) || c.FFTSize < 32 {
		return fmt.Errorf("fft size %d (try %d): %w", c.FFTSize, max(bitint.NextPowerOfTwo(c.FFTSize), 32), ErrNotPowerOfTwo)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 || math.IsNaN(c.Smoothing) {
		return fmt.Errorf("smoothing %.3f outside [0,1): %w", c.Smoothing, ErrInvalidAnalyser)
	}
	if !(c.MinDecibels < c.MaxDecibels) {
		return fmt.Errorf("min decibels %.1f not below max %.1f: %w", c.MinDecibels, c.MaxDecibels, ErrInvalidAnalyser)
	}
	return nil
}

// Pre-allocated buffers for one analysis pass.
type analyserWorkspace struct {
	ring     []float64    // Latest FFTSize samples, oldest at pos.
	pos      int          // Next write position in ring.
	input    []float64    // Windowed, time-ordered copy of ring.
	coeffs   []complex128 // FFT output, FFTSize/2+1 values.
	smoothed []float64    // Smoothed magnitudes per bin.
	window   []float64    // Blackman coefficients.
	spectrum []float64    // Output spectrum in the configured domain.
	waveform []float64    // Output waveform in the configured domain.
}

// Analyser turns a stream of mono samples into analyser frames. It implements
// analysis.Source.
type Analyser struct {
	config    AnalyserConfig
	fft       *fourier.FFT
	workspace analyserWorkspace
	mu        sync.Mutex
}

var _ analysis.Source = (*Analyser)(nil)

// NewAnalyser allocates all buffers up front.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.FFTSize
	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	window.Blackman(win)

	a := &Analyser{
		config: cfg,
		fft:    fourier.NewFFT(n),
		workspace: analyserWorkspace{
			ring:     make([]float64, n),
			input:    make([]float64, n),
			coeffs:   make([]complex128, n/2+1),
			smoothed: make([]float64, n/2),
			window:   win,
			spectrum: make([]float64, n/2),
			waveform: make([]float64, n),
		},
	}
	a.fillWaveform()
	return a, nil
}

// Config returns the analyser configuration.
func (a *Analyser) Config() AnalyserConfig {
	return a.config
}

// BinCount is the spectrum length, FFTSize/2.
func (a *Analyser) BinCount() int {
	return a.config.FFTSize / 2
}

// SampleRate implements analysis.Source.
func (a *Analyser) SampleRate() float64 {
	return a.config.SampleRate
}

// Write appends mono samples in [-1,1] to the ring buffer. Only the latest
// FFTSize samples are kept.
//
// Performance Critical (Hot Path):
// - Called from the audio callback
// - No allocations
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	ws := &a.workspace
	if len(samples) > len(ws.ring) {
		samples = samples[len(samples)-len(ws.ring):]
	}
	for _, x := range samples {
		ws.ring[ws.pos] = x
		ws.pos++
		if ws.pos == len(ws.ring) {
			ws.pos = 0
		}
	}
	a.mu.Unlock()
}

// Reset clears buffered samples and smoothing history, as after a seek.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws := &a.workspace
	clear(ws.ring)
	clear(ws.smoothed)
	ws.pos = 0
	a.fillWaveform()
	clear(ws.spectrum)
}

// Spectrum runs one analysis pass and returns the smoothed magnitude spectrum
// mapped into the configured domain. Like its browser counterpart every call
// advances the smoothing, so call it exactly once per frame. The returned
// slice is reused by the next call.
func (a *Analyser) Spectrum() analysis.SpectrumFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	ws := &a.workspace
	n := len(ws.ring)
	for i := range n {
		ws.input[i] = ws.ring[(ws.pos+i)%n] * ws.window[i]
	}
	a.fft.Coefficients(ws.coeffs, ws.input)

	tau := a.config.Smoothing
	minDb, maxDb := a.config.MinDecibels, a.config.MaxDecibels
	scale := a.fullScale() / (maxDb - minDb)
	for k := range ws.smoothed {
		mag := cmplx.Abs(ws.coeffs[k]) / float64(n)
		s := tau*ws.smoothed[k] + (1-tau)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		ws.smoothed[k] = s

		db := math.Inf(-1)
		if s > 0 {
			db = 20 * math.Log10(s)
		}
		ws.spectrum[k] = a.quantize(scale * (db - minDb))
	}
	return ws.spectrum
}

// Waveform returns the latest FFTSize samples centred on the domain's silence
// value. The returned slice is reused by the next call.
func (a *Analyser) Waveform() analysis.WaveformFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillWaveform()
	return a.workspace.waveform
}

func (a *Analyser) fillWaveform() {
	ws := &a.workspace
	n := len(ws.ring)
	c := a.fullScale() / 2
	if a.config.Domain == analysis.ByteDomain {
		c = 128
	}
	for i := range n {
		ws.waveform[i] = a.quantize(c * (1 + ws.ring[(ws.pos+i)%n]))
	}
}

func (a *Analyser) fullScale() float64 {
	if a.config.Domain == analysis.UnitDomain {
		return 1
	}
	return 255
}

// quantize clamps v into the domain; the byte domain also truncates to
// integers the way byte-typed analyser buffers do.
func (a *Analyser) quantize(v float64) float64 {
	top := a.fullScale()
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= top:
		return top
	}
	if a.config.Domain == analysis.ByteDomain {
		return math.Floor(v)
	}
	return v
}
