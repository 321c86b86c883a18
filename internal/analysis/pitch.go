// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// MinPitchHz is the lowest fundamental the detector searches for.
	MinPitchHz = 50.0
	// MaxPitchHz is the highest fundamental the detector searches for.
	MaxPitchHz = 1000.0
)

// PitchLagRange returns the inclusive autocorrelation lag range searched for a
// buffer of n samples. ok is false when no valid range exists.
func PitchLagRange(n int, sampleRate float64) (minLag, maxLag int, ok bool) {
	if n == 0 || !(sampleRate > 0) {
		return 0, 0, false
	}
	minLag = max(int(sampleRate/MaxPitchHz), 1)
	maxLag = min(int(sampleRate/MinPitchHz), n/2)
	if n < 2*minLag || maxLag < minLag {
		return 0, 0, false
	}
	return minLag, maxLag, true
}

// pitchKey is the fraction of the strongest normalised peak that the first
// accepted peak must reach.
const pitchKey = 0.9

// DetectPitch estimates the fundamental frequency of w in Hz by
// autocorrelation, or returns 0 when nothing periodic is found.
//
// The raw correlation sum at each lag is divided by the energy of the two
// overlapping segments (the normalised square difference), which removes the
// pull toward short lags that a window holding only a few periods of a low
// note otherwise has. The lobe around lag 0 is skipped until the correlation
// first drops to zero or below; the result is the first peak after it that
// reaches pitchKey of the strongest one. Lags are whole samples. signal is
// scratch space of at least len(w); a short signal allocates.
func DetectPitch(w WaveformFrame, sampleRate float64, d Domain, signal []float64) float64 {
	n := len(w)
	minLag, maxLag, ok := PitchLagRange(n, sampleRate)
	if !ok {
		return 0
	}
	if len(signal) < n {
		signal = make([]float64, n)
	}
	x := signal[:n]
	for i, v := range w {
		x[i] = d.normalize(v)
	}

	energy := floats.Dot(x, x)
	if energy == 0 {
		return 0
	}

	start := 0
	for lag := 1; lag <= maxLag; lag++ {
		if floats.Dot(x[:n-lag], x[lag:]) <= 0 {
			start = max(lag, minLag)
			break
		}
	}
	if start == 0 {
		return 0
	}

	// m tracks the overlap energy of the lag being scored, starting at lag 0.
	m := 2 * energy
	for lag := 1; lag < start; lag++ {
		m -= overlapLoss(x, lag)
	}
	beforeStart := m

	best := 0.0
	for lag := start; lag <= maxLag; lag++ {
		m -= overlapLoss(x, lag)
		best = max(best, nsdf(x, lag, m))
	}
	if best <= 0 {
		return 0
	}

	m = beforeStart
	prev := nsdf(x, start-1, m)
	m -= overlapLoss(x, start)
	cur := nsdf(x, start, m)
	for lag := start; lag <= maxLag; lag++ {
		next := math.Inf(-1)
		if lag < maxLag {
			m -= overlapLoss(x, lag+1)
			next = nsdf(x, lag+1, m)
		}
		if cur > 0 && cur >= pitchKey*best && cur >= prev && cur >= next {
			return sampleRate / float64(lag)
		}
		prev, cur = cur, next
	}
	return 0
}

// overlapLoss is the energy that leaves the head and tail segments when the
// lag grows from lag-1 to lag.
func overlapLoss(x []float64, lag int) float64 {
	head, tail := x[len(x)-lag], x[lag-1]
	return head*head + tail*tail
}

// nsdf is twice the raw correlation of x at lag over m, the summed energy of
// the overlapping segments.
func nsdf(x []float64, lag int, m float64) float64 {
	if m <= 0 {
		return 0
	}
	return 2 * floats.Dot(x[:len(x)-lag], x[lag:]) / m
}
