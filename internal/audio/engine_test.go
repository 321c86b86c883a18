// SPDX-License-Identifier: MIT
package audio

import (
	"io"
	"math"
	"os"
	"strconv"
	"testing"

	"timbre/internal/config"
	"timbre/internal/log"
)

const (
	testSampleRate = 44100
	testFrameSize  = 256
)

var (
	testBuffer    = make([]int32, testFrameSize*2)
	quietBuffer   = make([]int32, testFrameSize*2)
	loudBuffer    = make([]int32, testFrameSize*2)
	lowThreshold  = int32(math.MaxInt32 / 1000)
	highThreshold = int32(math.MaxInt32 / 2)
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)

	for i := range testBuffer {
		phase := 2 * math.Pi * float64(i) / 64
		testBuffer[i] = int32(math.Sin(phase) * math.MaxInt32 / 4)
		quietBuffer[i] = int32(math.Sin(phase) * math.MaxInt32 / 2000)
		loudBuffer[i] = int32(math.Sin(phase) * math.MaxInt32 * 0.9)
	}

	os.Exit(m.Run())
}

// captureWriter keeps a copy of the last mono block written to it.
type captureWriter struct {
	last  []float64
	calls int
}

func (c *captureWriter) Write(samples []float64) {
	c.last = append(c.last[:0], samples...)
	c.calls++
}

func testAudioConfig(channels int) config.AudioConfig {
	return config.AudioConfig{
		InputDevice:     config.DefaultDeviceID,
		SampleRate:      testSampleRate,
		FramesPerBuffer: testFrameSize,
		InputChannels:   channels,
		GateEnabled:     false,
	}
}

func newTestEngine(t testing.TB, channels int) (*Engine, *captureWriter) {
	t.Helper()
	out := &captureWriter{last: make([]float64, 0, testFrameSize)}
	engine, err := newEngine(testAudioConfig(channels), out, nil)
	if err != nil {
		t.Fatalf("newEngine() failed: %v", err)
	}
	return engine, out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func absFloat(v float64) float64 {
	return math.Abs(v)
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := newEngine(testAudioConfig(1), nil, nil); err == nil {
		t.Error("newEngine() with nil writer should fail")
	}
	if _, err := newEngine(testAudioConfig(0), &captureWriter{}, nil); err == nil {
		t.Error("newEngine() with zero channels should fail")
	}

	cfg := testAudioConfig(2)
	cfg.GateEnabled = true
	cfg.GateThreshold = 0.25
	engine, err := newEngine(cfg, &captureWriter{}, nil)
	if err != nil {
		t.Fatalf("newEngine() failed: %v", err)
	}
	if !engine.gateEnabled || absFloat(engine.GateThreshold()-0.25) > 1e-6 {
		t.Errorf("gate = %v @ %f, want enabled @ 0.25", engine.gateEnabled, engine.GateThreshold())
	}
	if len(engine.inputBuffer) != testFrameSize*2 || len(engine.mono) != testFrameSize {
		t.Errorf("buffers = %d/%d, want %d/%d", len(engine.inputBuffer), len(engine.mono), testFrameSize*2, testFrameSize)
	}
}

func TestMixDown(t *testing.T) {
	const full = math.MaxInt32
	tests := []struct {
		name     string
		channels int
		src      []int32
		want     []float64
	}{
		{"Mono Passthrough", 1, []int32{0, 1 << 30, -(1 << 30)}, []float64{0, 0.5, -0.5}},
		{"Stereo Average", 2, []int32{1 << 30, 1 << 30, 1 << 30, -(1 << 30)}, []float64{0.5, 0}},
		{"Stereo Cancellation", 2, []int32{full, -full}, []float64{0}},
		{"Full Scale No Overflow", 2, []int32{full, full}, []float64{float64(full) / (1 << 31)}},
		{"Quad", 4, []int32{1 << 29, 1 << 29, 1 << 29, 1 << 29}, []float64{0.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, len(tt.want))
			mixDown(dst, tt.src, tt.channels)
			for i := range dst {
				if math.Abs(dst[i]-tt.want[i]) > 1e-12 {
					t.Errorf("dst[%d] = %f, want %f", i, dst[i], tt.want[i])
				}
			}
		})
	}
}

func TestProcessBuffer(t *testing.T) {
	engine, out := newTestEngine(t, 2)

	engine.processInputStream(testBuffer)
	if out.calls != 1 || len(out.last) != testFrameSize {
		t.Fatalf("writer got %d calls of %d samples, want 1 of %d", out.calls, len(out.last), testFrameSize)
	}
	for i, v := range out.last {
		want := (float64(testBuffer[2*i]) + float64(testBuffer[2*i+1])) / 2 / (1 << 31)
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("mono[%d] = %f, want %f", i, v, want)
		}
	}

	// A closed gate delivers silence rather than skipping the block.
	engine.EnableGate()
	engine.SetGateThreshold(0.1)
	engine.processInputStream(quietBuffer)
	if out.calls != 2 {
		t.Fatalf("writer got %d calls, want 2", out.calls)
	}
	for i, v := range out.last {
		if v != 0 {
			t.Fatalf("gated mono[%d] = %f, want 0", i, v)
		}
	}

	engine.processInputStream(loudBuffer)
	if out.last[16] == 0 {
		t.Error("open gate delivered silence")
	}
}

func TestProcessBufferShortBlock(t *testing.T) {
	engine, out := newTestEngine(t, 2)
	engine.processInputStream(testBuffer[:20])
	if len(out.last) != 10 {
		t.Errorf("short block produced %d samples, want 10", len(out.last))
	}
}

func TestProcessBufferZeroAllocs(t *testing.T) {
	engine, _ := newTestEngine(t, 2)
	engine.EnableGate()
	engine.SetGateThreshold(0.001)

	engine.processBuffer(testBuffer)
	allocs := testing.AllocsPerRun(100, func() {
		engine.processBuffer(testBuffer)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in processBuffer, got %.1f", allocs)
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name   string
		buffer []int32
		want   int32
	}{
		{"Empty", nil, 0},
		{"Positive", []int32{1, 5, 3}, 5},
		{"Negative Wins", []int32{4, -9, 2}, 9},
		{"Max", []int32{math.MaxInt32, -1}, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := peakAmplitude(tt.buffer); got != tt.want {
				t.Errorf("peakAmplitude() = %d, want %d", got, tt.want)
			}
		})
	}
}

// BenchmarkHotPath benchmarks the full gate, mix and write path.
func BenchmarkHotPath(b *testing.B) {
	engine, _ := newTestEngine(b, 2)
	engine.EnableGate()

	b.ReportAllocs()

	for b.Loop() {
		engine.processBuffer(testBuffer)
	}
}
