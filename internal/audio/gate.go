// SPDX-License-Identifier: MIT
package audio

import "math"

func (e *Engine) EnableGate() {
	e.gateEnabled = true
}

func (e *Engine) DisableGate() {
	e.gateEnabled = false
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) SetGateThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	e.gateThreshold = int32(threshold * float64(math.MaxInt32))
}

// GateThreshold returns the current noise gate threshold in 0.0-1.0.
func (e *Engine) GateThreshold() float64 {
	return float64(e.gateThreshold) / float64(math.MaxInt32)
}

// gateOpen reports whether buffer should reach the analyser.
func (e *Engine) gateOpen(buffer []int32) bool {
	if !e.gateEnabled {
		return true
	}
	return peakAmplitude(buffer) > e.gateThreshold
}

// peakAmplitude returns the largest absolute sample value without
// branching on sign or comparison.
func peakAmplitude(buffer []int32) int32 {
	var maxAmplitude int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}
