// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// tonalityFloor is the minimum magnitude, as a fraction of full scale, a
	// local maximum needs to count as a peak.
	tonalityFloor = 0.1
	// tonalityGain scales the peak-to-total energy ratio before clamping.
	tonalityGain = 2.0

	// modulationWindow is the envelope window length in samples.
	modulationWindow = 64
	// modulationScale maps envelope deviation onto [0,1]. A square-ish
	// envelope swinging over the full range deviates by 0.5.
	modulationScale = 0.25

	// fmFluxGain maps per-bin flux, as a fraction of full scale, onto [0,1].
	fmFluxGain = 10.0
)

// BinAxis holds the centre frequency of every spectrum bin.
type BinAxis []float64

// NewBinAxis returns the frequency axis for binCount bins covering 0 Hz to
// Nyquist, freqPerBin = sampleRate / (2 * binCount).
func NewBinAxis(binCount int, sampleRate float64) BinAxis {
	axis := make(BinAxis, binCount)
	axis.fill(sampleRate)
	return axis
}

func (a BinAxis) fill(sampleRate float64) {
	if len(a) == 0 {
		return
	}
	freqPerBin := 0.0
	if sampleRate > 0 {
		freqPerBin = sampleRate / float64(2*len(a))
	}
	for i := range a {
		a[i] = float64(i) * freqPerBin
	}
}

// RMS returns the root mean square of the normalised waveform.
func RMS(w WaveformFrame, d Domain) float64 {
	if len(w) == 0 {
		return 0
	}
	var sumSquare float64
	for _, v := range w {
		x := d.normalize(v)
		sumSquare += x * x
	}
	return clamp(math.Sqrt(sumSquare/float64(len(w))), 0, 1)
}

// Peak returns the largest absolute normalised sample.
func Peak(w WaveformFrame, d Domain) float64 {
	var peak float64
	for _, v := range w {
		if x := math.Abs(d.normalize(v)); x > peak {
			peak = x
		}
	}
	return peak
}

// SpectralCentroid returns the magnitude-weighted mean frequency in Hz, or 0
// for a silent spectrum. axis must have the same length as s.
func SpectralCentroid(s SpectrumFrame, axis BinAxis) float64 {
	if len(s) == 0 || len(axis) != len(s) || floats.Sum(s) <= 0 {
		return 0
	}
	return finite(stat.Mean(axis, s))
}

// SpectralSpread returns the magnitude-weighted standard deviation of
// frequency around the centroid. The centroid is recomputed here so the result
// does not depend on call order.
func SpectralSpread(s SpectrumFrame, axis BinAxis) float64 {
	if len(s) == 0 || len(axis) != len(s) || floats.Sum(s) <= 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(axis, s)
	return finite(std)
}

// SpectralFlux returns the sum of positive bin increases since the previous
// frame divided by the bin count, and stores s as the new baseline. The first
// frame after a reset only seeds the baseline and returns 0. Decay is ignored
// so the value reacts to onsets only.
func SpectralFlux(s SpectrumFrame, st *State) float64 {
	if len(s) == 0 || len(st.prev) != len(s) {
		return 0
	}
	if !st.hasPrev {
		copy(st.prev, s)
		st.hasPrev = true
		return 0
	}

	var sum float64
	for i, v := range s {
		if diff := v - st.prev[i]; diff > 0 {
			sum += diff
		}
	}
	copy(st.prev, s)
	return sum / float64(len(s))
}

// SpectralEntropy returns the Shannon entropy of the magnitude distribution
// normalised by log(N): 1 for a flat spectrum, 0 for a single bin or silence.
// probs is scratch space of at least len(s); a nil probs allocates.
func SpectralEntropy(s SpectrumFrame, probs []float64) float64 {
	n := len(s)
	if n < 2 {
		return 0
	}
	total := floats.Sum(s)
	if total <= 0 {
		return 0
	}
	if len(probs) < n {
		probs = make([]float64, n)
	}
	p := probs[:n]
	for i, v := range s {
		if v > 0 {
			p[i] = v / total
		} else {
			p[i] = 0
		}
	}
	return clamp(stat.Entropy(p)/math.Log(float64(n)), 0, 1)
}

// Tonality approximates how much of the spectral energy sits in peaks: the
// energy of bins that exceed both neighbours and a floor, over total energy,
// scaled and clamped. It is a rough tonal/noisy indicator, not a
// harmonic-to-noise ratio.
func Tonality(s SpectrumFrame, d Domain) float64 {
	if len(s) < 3 {
		return 0
	}
	floor := tonalityFloor * d.fullScale()

	var peakEnergy, totalEnergy float64
	for i, v := range s {
		e := v * v
		totalEnergy += e
		if i == 0 || i == len(s)-1 {
			continue
		}
		if v > floor && v > s[i-1] && v > s[i+1] {
			peakEnergy += e
		}
	}
	if totalEnergy == 0 {
		return 0
	}
	return clamp(peakEnergy/totalEnergy*tonalityGain, 0, 1)
}

// AmplitudeModulation measures envelope fluctuation: the waveform is cut into
// fixed windows, each contributing its max absolute sample, and the standard
// deviation of that envelope is scaled onto [0,1]. Fewer than two windows
// yields 0. envelope is scratch space; a short envelope allocates.
func AmplitudeModulation(w WaveformFrame, d Domain, envelope []float64) float64 {
	windows := len(w) / modulationWindow
	if windows < 2 {
		return 0
	}
	if len(envelope) < windows {
		envelope = make([]float64, windows)
	}
	env := envelope[:windows]
	for i := range env {
		var peak float64
		for _, v := range w[i*modulationWindow : (i+1)*modulationWindow] {
			if x := math.Abs(d.normalize(v)); x > peak {
				peak = x
			}
		}
		env[i] = peak
	}
	return clamp(finite(stat.PopStdDev(env, nil))/modulationScale, 0, 1)
}

// FrequencyModulation is a proxy derived from spectral flux. It is
// intentionally approximate: spectral change stands in for vibrato depth, no
// pitch trajectory is tracked.
func FrequencyModulation(flux float64, d Domain) float64 {
	return clamp(finite(flux/d.fullScale()*fmFluxGain), 0, 1)
}
