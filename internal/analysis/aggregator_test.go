// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"testing"
)

type fakeSource struct {
	spectrum   SpectrumFrame
	waveform   WaveformFrame
	sampleRate float64
}

func (f *fakeSource) Spectrum() SpectrumFrame { return f.spectrum }
func (f *fakeSource) Waveform() WaveformFrame { return f.waveform }
func (f *fakeSource) SampleRate() float64     { return f.sampleRate }

func newTestState(t testing.TB, d Domain) *State {
	t.Helper()
	st, err := NewState(Config{
		BinCount:    testBins,
		SampleCount: testSamples,
		SampleRate:  testSampleRate,
		Domain:      d,
	})
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	return st
}

func assertFinite(t *testing.T, rec Record) {
	t.Helper()
	for i, v := range rec.Scalars() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s = %f, want finite", ScalarNames[i], v)
		}
	}
	for i, v := range rec.MFCC {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("mfcc[%d] = %f, want finite", i, v)
		}
	}
	for _, v := range []float64{rec.RMS, rec.SpectralEntropy, rec.Tonality, rec.AmplitudeModulation, rec.FrequencyModulation} {
		if v < 0 || v > 1 {
			t.Errorf("unit feature %f outside [0,1]: %+v", v, rec)
		}
	}
}

func TestNewStateValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"Zero Bins", Config{BinCount: 0, SampleCount: 2048}},
		{"Negative Samples", Config{BinCount: 1024, SampleCount: -1}},
		{"Unknown Domain", Config{BinCount: 1024, SampleCount: 2048, Domain: Domain(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewState(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewState() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	st, err := NewState(Config{BinCount: 8, SampleCount: 8, SampleRate: math.NaN()})
	if err != nil {
		t.Fatalf("NewState() with NaN rate error = %v", err)
	}
	if st.Config().SampleRate != 0 {
		t.Errorf("NaN sample rate stored as %f, want 0", st.Config().SampleRate)
	}
}

func TestAnalyzeSilence(t *testing.T) {
	for _, d := range []Domain{ByteDomain, UnitDomain} {
		t.Run(d.String(), func(t *testing.T) {
			st := newTestState(t, d)
			spectrum := make(SpectrumFrame, testBins)
			waveform := WaveformFrame(constant(testSamples, d.center()))

			for range 3 {
				rec, err := Analyze(spectrum, waveform, testSampleRate, st)
				if err != nil {
					t.Fatalf("Analyze() error = %v", err)
				}
				if rec != (Record{}) {
					t.Errorf("Analyze(silence) = %+v, want zero record", rec)
				}
			}
		})
	}
}

func TestAnalyzeSingleBin(t *testing.T) {
	st := newTestState(t, ByteDomain)
	spectrum := singleBin(testBins, 100, 255)
	waveform := WaveformFrame(constant(testSamples, 128))

	rec, err := Analyze(spectrum, waveform, testSampleRate, st)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	// 100 * 44100 / 2048
	if want := 2153.3203125; math.Abs(rec.SpectralCentroidHz-want) > 1e-6 {
		t.Errorf("SpectralCentroidHz = %f, want %f", rec.SpectralCentroidHz, want)
	}
	if rec.SpectralSpreadHz != 0 {
		t.Errorf("SpectralSpreadHz = %f, want 0", rec.SpectralSpreadHz)
	}
	if rec.SpectralEntropy != 0 {
		t.Errorf("SpectralEntropy = %f, want 0", rec.SpectralEntropy)
	}
	if rec.Tonality != 1 {
		t.Errorf("Tonality = %f, want 1", rec.Tonality)
	}
	if rec.SpectralFlux != 0 {
		t.Errorf("SpectralFlux = %f on first frame, want 0", rec.SpectralFlux)
	}
	if rec.RMS != 0 || rec.PitchHz != 0 {
		t.Errorf("silent waveform gave rms %f pitch %f", rec.RMS, rec.PitchHz)
	}
	assertFinite(t, rec)
}

func TestAnalyzeDomainInvariance(t *testing.T) {
	unitSpectrum := make(SpectrumFrame, testBins)
	byteSpectrum := make(SpectrumFrame, testBins)
	for i := range unitSpectrum {
		unitSpectrum[i] = math.Exp(-0.002 * math.Pow(float64(i-20), 2))
		byteSpectrum[i] = 255 * unitSpectrum[i]
	}
	unitWave := sine(testSamples, testSampleRate, 441, 0.6, UnitDomain)
	byteWave := sine(testSamples, testSampleRate, 441, 0.6, ByteDomain)

	unitState := newTestState(t, UnitDomain)
	byteState := newTestState(t, ByteDomain)

	ru, err := Analyze(unitSpectrum, unitWave, testSampleRate, unitState)
	if err != nil {
		t.Fatalf("Analyze(unit) error = %v", err)
	}
	rb, err := Analyze(byteSpectrum, byteWave, testSampleRate, byteState)
	if err != nil {
		t.Fatalf("Analyze(byte) error = %v", err)
	}

	su, sb := ru.Scalars(), rb.Scalars()
	for i := range su {
		if math.Abs(su[i]-sb[i]) > 1e-6*math.Max(1, math.Abs(su[i])) {
			t.Errorf("%s differs across domains: unit %f, byte %f", ScalarNames[i], su[i], sb[i])
		}
	}
	if ru.PitchHz != 441 {
		t.Errorf("PitchHz = %f, want 441", ru.PitchHz)
	}
}

func TestAnalyzeFrameLength(t *testing.T) {
	st := newTestState(t, ByteDomain)

	tests := []struct {
		name     string
		spectrum SpectrumFrame
		waveform WaveformFrame
	}{
		{"Short Spectrum", make(SpectrumFrame, testBins/2), make(WaveformFrame, testSamples)},
		{"Long Waveform", make(SpectrumFrame, testBins), make(WaveformFrame, testSamples+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.spectrum, tt.waveform, testSampleRate, st)
			if !errors.Is(err, ErrFrameLength) {
				t.Errorf("Analyze() error = %v, want ErrFrameLength", err)
			}
			if st.HasBaseline() {
				t.Error("rejected frame seeded the flux baseline")
			}
		})
	}

	if _, err := Analyze(nil, nil, testSampleRate, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Analyze() with nil state error = %v, want ErrInvalidConfig", err)
	}
}

func TestAnalyzeEmptyBuffers(t *testing.T) {
	st := newTestState(t, UnitDomain)
	wave := sine(testSamples, testSampleRate, 441, 0.8, UnitDomain)
	spectrum := singleBin(testBins, 100, 1)

	// No spectrum: waveform features only.
	rec, err := Analyze(nil, wave, testSampleRate, st)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if rec.RMS == 0 || rec.PitchHz == 0 {
		t.Errorf("waveform features missing: %+v", rec)
	}
	if rec.SpectralCentroidHz != 0 || rec.MFCC != [NumCoefficients]float64{} {
		t.Errorf("spectral features set without a spectrum: %+v", rec)
	}

	// No waveform: spectral features only.
	rec, err = Analyze(spectrum, WaveformFrame{}, testSampleRate, st)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if rec.RMS != 0 || rec.PitchHz != 0 || rec.AmplitudeModulation != 0 {
		t.Errorf("waveform features set without a waveform: %+v", rec)
	}
	if rec.SpectralCentroidHz == 0 {
		t.Error("SpectralCentroidHz = 0 with a spectrum present")
	}
}

func TestAnalyzeInvalidSampleRate(t *testing.T) {
	for _, rate := range []float64{0, -44100, math.NaN(), math.Inf(-1)} {
		st := newTestState(t, ByteDomain)
		spectrum := singleBin(testBins, 100, 255)
		wave := sine(testSamples, testSampleRate, 441, 0.8, ByteDomain)

		rec, err := Analyze(spectrum, wave, rate, st)
		if err != nil {
			t.Fatalf("rate %f: Analyze() error = %v", rate, err)
		}
		if rec.SpectralCentroidHz != 0 || rec.SpectralSpreadHz != 0 || rec.PitchHz != 0 {
			t.Errorf("rate %f: Hz features not zero: %+v", rate, rec)
		}
		if rec.MFCC != [NumCoefficients]float64{} {
			t.Errorf("rate %f: MFCC = %v, want zeros", rate, rec.MFCC)
		}
		if rec.RMS == 0 || rec.Tonality != 1 {
			t.Errorf("rate %f: rate-free features lost: %+v", rate, rec)
		}
	}
}

func TestAnalyzeNonFiniteInput(t *testing.T) {
	st := newTestState(t, UnitDomain)
	spectrum := singleBin(testBins, 100, 1)
	spectrum[200] = math.NaN()
	spectrum[300] = math.Inf(1)
	wave := sine(testSamples, testSampleRate, 441, 0.8, UnitDomain)
	wave[10] = math.NaN()

	for range 2 {
		rec, err := Analyze(spectrum, wave, testSampleRate, st)
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		assertFinite(t, rec)
	}
}

func TestAggregatorSession(t *testing.T) {
	src := &fakeSource{
		spectrum:   make(SpectrumFrame, testBins),
		waveform:   sine(testSamples, testSampleRate, 441, 0.5, ByteDomain),
		sampleRate: testSampleRate,
	}
	agg, err := NewAggregator(src, newTestState(t, ByteDomain))
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	if _, err := agg.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	src.spectrum = singleBin(testBins, 100, 255)
	rec, err := agg.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := 255.0 / testBins; math.Abs(rec.SpectralFlux-want) > epsilon {
		t.Errorf("SpectralFlux = %f, want %f", rec.SpectralFlux, want)
	}

	// Identical frames report no flux.
	rec, _ = agg.Next()
	if rec.SpectralFlux != 0 {
		t.Errorf("SpectralFlux = %f on a repeated frame, want 0", rec.SpectralFlux)
	}

	agg.ResetSession()
	if agg.State().HasBaseline() {
		t.Error("ResetSession() kept the baseline")
	}
	src.spectrum = SpectrumFrame(constant(testBins, 200))
	rec, _ = agg.Next()
	if rec.SpectralFlux != 0 {
		t.Errorf("SpectralFlux = %f after ResetSession(), want 0", rec.SpectralFlux)
	}

	if _, err := NewAggregator(nil, agg.State()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewAggregator(nil source) error = %v", err)
	}
	if _, err := NewAggregator(src, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewAggregator(nil state) error = %v", err)
	}
}

func TestAggregatorHotPath(t *testing.T) {
	src := &fakeSource{
		spectrum:   make(SpectrumFrame, testBins),
		waveform:   sine(testSamples, testSampleRate, 441, 0.5, ByteDomain),
		sampleRate: testSampleRate,
	}
	for i := range src.spectrum {
		src.spectrum[i] = float64((i * 7) % 256)
	}
	agg, err := NewAggregator(src, newTestState(t, ByteDomain))
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	// Warm-up call so lazily built tables do not count.
	agg.Next()
	allocs := testing.AllocsPerRun(100, func() {
		agg.Next()
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in Aggregator.Next hot path, got %.1f", allocs)
	}
}

func BenchmarkAnalyze(b *testing.B) {
	st := newTestState(b, ByteDomain)
	spectrum := make(SpectrumFrame, testBins)
	for i := range spectrum {
		spectrum[i] = float64((i * 7) % 256)
	}
	waveform := sine(testSamples, testSampleRate, 440, 0.5, ByteDomain)

	b.ReportAllocs()

	for b.Loop() {
		Analyze(spectrum, waveform, testSampleRate, st)
	}
}
