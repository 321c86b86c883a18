// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
)

// NumCoefficients is the number of cepstral coefficients in every Record.
const NumCoefficients = 13

// NumScalars is the number of scalar (non-MFCC) features in a Record.
const NumScalars = 10

var (
	// ErrFrameLength reports a buffer whose length differs from the session's
	// configured bin or sample count. It indicates a broken source, not a
	// signal condition.
	ErrFrameLength = errors.New("frame length does not match session")

	// ErrInvalidConfig reports a session that cannot be constructed.
	ErrInvalidConfig = errors.New("invalid analysis configuration")
)

// Record is the feature vector produced for one frame. It is a plain value:
// copying it never shares memory with the analyzer.
type Record struct {
	RMS                 float64                  `json:"rms"`
	Peak                float64                  `json:"peak"`
	SpectralCentroidHz  float64                  `json:"spectralCentroidHz"`
	SpectralSpreadHz    float64                  `json:"spectralSpreadHz"`
	SpectralFlux        float64                  `json:"spectralFlux"`
	SpectralEntropy     float64                  `json:"spectralEntropy"`
	Tonality            float64                  `json:"tonality"`
	PitchHz             float64                  `json:"pitchHz"`
	AmplitudeModulation float64                  `json:"amplitudeModulation"`
	FrequencyModulation float64                  `json:"frequencyModulation"`
	MFCC                [NumCoefficients]float64 `json:"mfcc"`
}

// ScalarNames lists the scalar features in the order Scalars returns them.
var ScalarNames = [NumScalars]string{
	"rms",
	"peak",
	"spectralCentroidHz",
	"spectralSpreadHz",
	"spectralFlux",
	"spectralEntropy",
	"tonality",
	"pitchHz",
	"amplitudeModulation",
	"frequencyModulation",
}

// Scalars returns the scalar features in ScalarNames order.
func (r Record) Scalars() [NumScalars]float64 {
	return [NumScalars]float64{
		r.RMS,
		r.Peak,
		r.SpectralCentroidHz,
		r.SpectralSpreadHz,
		r.SpectralFlux,
		r.SpectralEntropy,
		r.Tonality,
		r.PitchHz,
		r.AmplitudeModulation,
		r.FrequencyModulation,
	}
}

// sanitize enforces the record invariants: every field finite, unit features
// inside [0,1].
func (r *Record) sanitize() {
	r.RMS = clamp(finite(r.RMS), 0, 1)
	r.Peak = finite(r.Peak)
	r.SpectralCentroidHz = finite(r.SpectralCentroidHz)
	r.SpectralSpreadHz = finite(r.SpectralSpreadHz)
	r.SpectralFlux = finite(r.SpectralFlux)
	r.SpectralEntropy = clamp(finite(r.SpectralEntropy), 0, 1)
	r.Tonality = clamp(finite(r.Tonality), 0, 1)
	r.PitchHz = finite(r.PitchHz)
	r.AmplitudeModulation = clamp(finite(r.AmplitudeModulation), 0, 1)
	r.FrequencyModulation = clamp(finite(r.FrequencyModulation), 0, 1)
	for i, c := range r.MFCC {
		r.MFCC[i] = finite(c)
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
