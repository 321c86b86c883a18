// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
)

// Analyze computes the Record for one frame and advances the session state.
//
// An empty buffer counts as absent and zeroes the features derived from it. A
// non-empty buffer whose length differs from the session geometry is a
// collaborator bug and fails with ErrFrameLength, leaving st untouched.
//
// Performance Critical (Hot Path):
// - No allocations once the sample rate is stable
// - Loops bounded by N, M, NumMelFilters and NumCoefficients
func Analyze(spectrum SpectrumFrame, waveform WaveformFrame, sampleRate float64, st *State) (Record, error) {
	var rec Record
	if st == nil {
		return rec, fmt.Errorf("nil analysis state: %w", ErrInvalidConfig)
	}
	if n := len(spectrum); n != 0 && n != st.config.BinCount {
		return rec, fmt.Errorf("spectrum has %d bins, session expects %d: %w", n, st.config.BinCount, ErrFrameLength)
	}
	if m := len(waveform); m != 0 && m != st.config.SampleCount {
		return rec, fmt.Errorf("waveform has %d samples, session expects %d: %w", m, st.config.SampleCount, ErrFrameLength)
	}
	if !(sampleRate > 0) {
		sampleRate = 0
	}
	st.warm(sampleRate)
	d := st.config.Domain

	if len(waveform) > 0 {
		rec.RMS = RMS(waveform, d)
		rec.Peak = Peak(waveform, d)
		rec.AmplitudeModulation = AmplitudeModulation(waveform, d, st.envelope)
		rec.PitchHz = DetectPitch(waveform, sampleRate, d, st.signal)
	}

	if len(spectrum) > 0 {
		rec.SpectralCentroidHz = SpectralCentroid(spectrum, st.axis)
		rec.SpectralSpreadHz = SpectralSpread(spectrum, st.axis)
		rec.SpectralFlux = SpectralFlux(spectrum, st)
		rec.SpectralEntropy = SpectralEntropy(spectrum, st.probs)
		rec.Tonality = Tonality(spectrum, d)
		rec.FrequencyModulation = FrequencyModulation(rec.SpectralFlux, d)
		rec.MFCC = st.cepstral.Compute(spectrum, sampleRate)
	}

	rec.sanitize()
	return rec, nil
}

// Aggregator is the per-frame entry point: it pulls buffers from its source
// and runs Analyze against the state it owns. It does no smoothing; consumers
// that want smoothed values apply it to the returned records.
type Aggregator struct {
	source Source
	state  *State
}

// NewAggregator binds a source to a session state.
func NewAggregator(source Source, state *State) (*Aggregator, error) {
	if source == nil {
		return nil, fmt.Errorf("nil source: %w", ErrInvalidConfig)
	}
	if state == nil {
		return nil, fmt.Errorf("nil state: %w", ErrInvalidConfig)
	}
	return &Aggregator{source: source, state: state}, nil
}

// Next analyses the source's current frame. Call it once per render tick.
func (a *Aggregator) Next() (Record, error) {
	return Analyze(a.source.Spectrum(), a.source.Waveform(), a.source.SampleRate(), a.state)
}

// ResetSession clears the flux baseline. Call it whenever the source is
// swapped or seeks, so unrelated frames are never compared.
func (a *Aggregator) ResetSession() {
	a.state.Reset()
}

// State returns the session state owned by the aggregator.
func (a *Aggregator) State() *State {
	return a.state
}
