// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"

	"timbre/internal/analysis"
)

// MockSink implements the transport Sink interface for testing. It keeps
// every record it receives.
type MockSink struct {
	mu      sync.Mutex
	Records []analysis.Record
	Closed  bool
}

// Send stores the record for later inspection instead of transmitting.
func (m *MockSink) Send(rec analysis.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Count returns the number of records received so far.
func (m *MockSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// Last returns the most recent record, or false when none arrived.
func (m *MockSink) Last() (analysis.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Records) == 0 {
		return analysis.Record{}, false
	}
	return m.Records[len(m.Records)-1], true
}

// GenerateComplexWave returns a 440Hz fundamental with two harmonics, peaking
// just under full scale in [-1,1].
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

// GenerateSineWave returns a sine of the given amplitude in [-1,1].
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * amplitude
	}
	return buffer
}

// ToDomain shifts a signal in [-1,1] into a waveform centred at center, the
// way analyser time-domain buffers are delivered: center*(1+x).
func ToDomain(signal []float64, center float64) []float64 {
	out := make([]float64, len(signal))
	for i, x := range signal {
		out[i] = center * (1 + x)
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin,endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
