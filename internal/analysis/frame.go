// SPDX-License-Identifier: MIT
/*
Package analysis implements the per-frame feature extraction core:
- Loudness (RMS, peak) and envelope modulation from the waveform
- Spectral shape (centroid, spread, flux, entropy, tonality)
- Autocorrelation pitch estimation
- Mel-frequency cepstral coefficients

Real-Time Contract:
- One Analyze call per render frame, single goroutine per State
- All working buffers live in State and are allocated once
- Degenerate input (silence, empty buffers, zero sums) yields zeros, never NaN
*/
package analysis

import (
	"fmt"
	"strings"
)

// SpectrumFrame is one frame of N magnitude bins, bin 0 at 0 Hz. The core only
// reads it.
type SpectrumFrame []float64

// WaveformFrame is one frame of M time-domain samples centred on the domain's
// silence value. The core only reads it.
type WaveformFrame []float64

// Source supplies the buffers for the current analysis frame. Implementations
// must return buffers of a fixed length for the lifetime of a session.
type Source interface {
	Spectrum() SpectrumFrame
	Waveform() WaveformFrame
	SampleRate() float64
}

// Domain selects the value range the source delivers.
type Domain int

const (
	// ByteDomain spectra span [0,255] and waveforms are centred at 128.
	ByteDomain Domain = iota
	// UnitDomain spectra span [0,1] and waveforms are centred at 0.5.
	UnitDomain
)

func (d Domain) String() string {
	switch d {
	case ByteDomain:
		return "byte"
	case UnitDomain:
		return "unit"
	default:
		return "unknown"
	}
}

// ParseDomain converts a config name (case-insensitive) to a Domain.
func ParseDomain(name string) (Domain, error) {
	switch strings.ToLower(name) {
	case "byte", "bytes", "":
		return ByteDomain, nil
	case "unit", "float", "normalized":
		return UnitDomain, nil
	default:
		return ByteDomain, fmt.Errorf("unknown sample domain '%s': %w", name, ErrInvalidConfig)
	}
}

// center is the waveform value that represents silence.
func (d Domain) center() float64 {
	if d == UnitDomain {
		return 0.5
	}
	return 128
}

// fullScale is the largest spectrum magnitude the domain can carry.
func (d Domain) fullScale() float64 {
	if d == UnitDomain {
		return 1
	}
	return 255
}

// normalize maps a raw waveform sample to [-1,1]. Clipped input saturates
// instead of overshooting.
func (d Domain) normalize(v float64) float64 {
	c := d.center()
	return clamp((v-c)/c, -1, 1)
}
