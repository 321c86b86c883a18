// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NumMelFilters is the number of triangular filters in the mel filterbank.
const NumMelFilters = 26

// HzToMel converts a frequency in Hz to mels.
func HzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// MelToHz converts mels back to Hz.
func MelToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilter is one triangle, stored only over the bins it touches.
type melFilter struct {
	start   int       // First bin covered.
	weights []float64 // Weight per bin from start; empty when degenerate.
}

// MelFilterbank holds NumMelFilters triangular filters spaced evenly in mel
// between 0 Hz and Nyquist. It depends only on sample rate and bin count.
type MelFilterbank struct {
	sampleRate float64
	binCount   int
	filters    [NumMelFilters]melFilter
}

// NewMelFilterbank builds the filterbank for binCount bins at sampleRate.
// Filters whose edges collapse onto the same bin get no weights and always
// output 0.
func NewMelFilterbank(binCount int, sampleRate float64) *MelFilterbank {
	fb := &MelFilterbank{sampleRate: sampleRate, binCount: binCount}
	if binCount <= 0 || !(sampleRate > 0) {
		return fb
	}

	nyquist := sampleRate / 2
	freqPerBin := sampleRate / float64(2*binCount)
	highMel := HzToMel(nyquist)
	melStep := highMel / float64(NumMelFilters+1)

	// Edge bins: filter m spans points m, m+1 and m+2.
	var points [NumMelFilters + 2]int
	for i := range points {
		hz := MelToHz(float64(i) * melStep)
		points[i] = min(int(math.Floor(hz/freqPerBin+0.5)), binCount-1)
	}

	for m := range fb.filters {
		left, center, right := points[m], points[m+1], points[m+2]
		if right <= left {
			continue
		}
		weights := make([]float64, right-left+1)
		for k := left; k <= right; k++ {
			switch {
			case k < center && center != left:
				weights[k-left] = float64(k-left) / float64(center-left)
			case k == center:
				weights[k-left] = 1
			case k > center && right != center:
				weights[k-left] = float64(right-k) / float64(right-center)
			}
		}
		fb.filters[m] = melFilter{start: left, weights: weights}
	}
	return fb
}

// Matches reports whether the filterbank was built for these parameters.
func (fb *MelFilterbank) Matches(binCount int, sampleRate float64) bool {
	return fb != nil && fb.binCount == binCount && fb.sampleRate == sampleRate
}

// Apply writes the weighted sum of s under each filter into dst.
func (fb *MelFilterbank) Apply(dst *[NumMelFilters]float64, s SpectrumFrame) {
	for m, f := range fb.filters {
		end := f.start + len(f.weights)
		if len(f.weights) == 0 || end > len(s) {
			dst[m] = 0
			continue
		}
		dst[m] = floats.Dot(f.weights, s[f.start:end])
	}
}

// CepstralAnalyzer turns a spectrum into NumCoefficients cepstral
// coefficients: mel filterbank, log(1+x) compression, then an unnormalised
// DCT-II. Windowing and pre-emphasis are left to the source, which delivers
// pre-windowed spectra.
type CepstralAnalyzer struct {
	filterbank *MelFilterbank
	dct        [NumCoefficients][NumMelFilters]float64
	mel        [NumMelFilters]float64
}

// NewCepstralAnalyzer precomputes the DCT table. The filterbank is built on
// first use and whenever the sample rate or bin count changes.
func NewCepstralAnalyzer() *CepstralAnalyzer {
	c := &CepstralAnalyzer{}
	for k := range c.dct {
		for n := range c.dct[k] {
			c.dct[k][n] = math.Cos(math.Pi * float64(k) * (float64(n) + 0.5) / NumMelFilters)
		}
	}
	return c
}

// Compute returns the cepstral coefficients of s.
func (c *CepstralAnalyzer) Compute(s SpectrumFrame, sampleRate float64) [NumCoefficients]float64 {
	var out [NumCoefficients]float64
	if len(s) == 0 {
		return out
	}
	if !c.filterbank.Matches(len(s), sampleRate) {
		c.filterbank = NewMelFilterbank(len(s), sampleRate)
	}

	c.filterbank.Apply(&c.mel, s)
	for i, v := range c.mel {
		c.mel[i] = math.Log1p(math.Max(v, 0))
	}
	for k := range out {
		out[k] = floats.Dot(c.dct[k][:], c.mel[:])
	}
	return out
}

// Filterbank returns the filterbank in use, or nil before the first Compute.
func (c *CepstralAnalyzer) Filterbank() *MelFilterbank {
	return c.filterbank
}
