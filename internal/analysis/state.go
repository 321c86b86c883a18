// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
)

// Config fixes the frame geometry of one analysis session.
type Config struct {
	BinCount    int     // Spectrum length N.
	SampleCount int     // Waveform length M.
	SampleRate  float64 // Nominal sample rate in Hz, used to warm the caches.
	Domain      Domain  // Value range delivered by the source.
}

// State is everything an analysis session carries between frames: the flux
// baseline, the cached frequency axis and cepstral tables, and scratch
// buffers sized once from Config. A State belongs to exactly one session and
// must not be shared between goroutines; concurrent sessions each need their
// own.
type State struct {
	config Config

	// Flux baseline.
	prev    []float64
	hasPrev bool

	// Derived tables, rebuilt only when the sample rate changes.
	axisRate float64
	axis     BinAxis
	cepstral *CepstralAnalyzer

	// Scratch.
	probs    []float64
	signal   []float64
	envelope []float64
}

// NewState allocates a session for the given geometry.
func NewState(cfg Config) (*State, error) {
	if cfg.BinCount <= 0 {
		return nil, fmt.Errorf("bin count must be positive, got %d: %w", cfg.BinCount, ErrInvalidConfig)
	}
	if cfg.SampleCount <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d: %w", cfg.SampleCount, ErrInvalidConfig)
	}
	if cfg.Domain != ByteDomain && cfg.Domain != UnitDomain {
		return nil, fmt.Errorf("unknown domain %d: %w", cfg.Domain, ErrInvalidConfig)
	}
	if !(cfg.SampleRate > 0) {
		cfg.SampleRate = 0
	}

	st := &State{
		config:   cfg,
		prev:     make([]float64, cfg.BinCount),
		axis:     make(BinAxis, cfg.BinCount),
		cepstral: NewCepstralAnalyzer(),
		probs:    make([]float64, cfg.BinCount),
		signal:   make([]float64, cfg.SampleCount),
		envelope: make([]float64, cfg.SampleCount/modulationWindow+1),
	}
	st.warm(cfg.SampleRate)
	return st, nil
}

// Config returns the session geometry.
func (st *State) Config() Config {
	return st.config
}

// Reset clears the flux baseline so the next frame is compared against
// nothing. Call it when the signal jumps discontinuously: a new file, a seek,
// a resume after pause. Filterbank and axis tables survive since they depend
// only on sample rate and bin count.
func (st *State) Reset() {
	st.hasPrev = false
	for i := range st.prev {
		st.prev[i] = 0
	}
}

// HasBaseline reports whether a previous spectrum is stored for flux.
func (st *State) HasBaseline() bool {
	return st.hasPrev
}

// warm (re)builds the rate-dependent tables when the sample rate moves.
func (st *State) warm(sampleRate float64) {
	if sampleRate == st.axisRate && st.cepstral.Filterbank() != nil {
		return
	}
	st.axis.fill(sampleRate)
	st.axisRate = sampleRate
	// Compute on an empty spectrum is a no-op, so build the filterbank here
	// to keep the first real frame allocation free.
	if !st.cepstral.filterbank.Matches(st.config.BinCount, sampleRate) {
		st.cepstral.filterbank = NewMelFilterbank(st.config.BinCount, sampleRate)
	}
}
