// SPDX-License-Identifier: MIT
/*
Package projection maps feature records onto a 3D point for visualisers.

The weights are fixed cosine basis rows, so the same record always lands on
the same point across runs and machines. Nothing is fitted to data.
*/
package projection

import (
	"math"

	"timbre/internal/analysis"

	"gonum.org/v1/gonum/mat"
)

// Dimensions of the projected point.
const Dimensions = 3

// Features is the length of the normalised feature vector.
const Features = analysis.NumScalars + analysis.NumCoefficients

const (
	// mfccScale sets where tanh starts to saturate cepstral coefficients.
	mfccScale = 32.0
)

// Point is a projected record.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Projector holds the weight matrix and scratch vectors. It is not safe for
// concurrent use.
type Projector struct {
	nyquist   float64
	fullScale float64

	weights *mat.Dense
	in      *mat.VecDense
	out     *mat.VecDense
}

// NewProjector builds a projector for records produced at sampleRate in the
// given domain. Both only affect how Hz and flux features are normalised.
func NewProjector(sampleRate float64, d analysis.Domain) *Projector {
	nyquist := 0.0
	if sampleRate > 0 {
		nyquist = sampleRate / 2
	}
	fullScale := 255.0
	if d == analysis.UnitDomain {
		fullScale = 1
	}
	return &Projector{
		nyquist:   nyquist,
		fullScale: fullScale,
		weights:   Weights(),
		in:        mat.NewVecDense(Features, nil),
		out:       mat.NewVecDense(Dimensions, nil),
	}
}

// Weights returns the Dimensions x Features projection matrix: rows 1..3 of
// an orthonormal DCT-II basis.
func Weights() *mat.Dense {
	data := make([]float64, Dimensions*Features)
	norm := math.Sqrt(2.0 / Features)
	for i := range Dimensions {
		for j := range Features {
			data[i*Features+j] = norm * math.Cos(math.Pi*float64(i+1)*(float64(j)+0.5)/Features)
		}
	}
	return mat.NewDense(Dimensions, Features, data)
}

// Normalize writes the record's features into dst scaled to roughly [-1,1].
// dst must have length Features.
func (p *Projector) Normalize(dst []float64, rec analysis.Record) {
	s := rec.Scalars()
	copy(dst, s[:])

	// Hz features relative to Nyquist, flux relative to full scale.
	dst[2] = ratio(rec.SpectralCentroidHz, p.nyquist)
	dst[3] = ratio(rec.SpectralSpreadHz, p.nyquist)
	dst[4] = ratio(rec.SpectralFlux, p.fullScale)
	dst[7] = 0
	if rec.PitchHz > 0 {
		dst[7] = clampUnit((rec.PitchHz - analysis.MinPitchHz) / (analysis.MaxPitchHz - analysis.MinPitchHz))
	}

	for k, c := range rec.MFCC {
		dst[analysis.NumScalars+k] = math.Tanh(c / mfccScale)
	}
}

// Project returns the point for rec.
//
// Performance Critical (Hot Path):
// - No allocations
func (p *Projector) Project(rec analysis.Record) Point {
	p.Normalize(p.in.RawVector().Data, rec)
	p.out.MulVec(p.weights, p.in)
	return Point{X: p.out.AtVec(0), Y: p.out.AtVec(1), Z: p.out.AtVec(2)}
}

func ratio(v, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clampUnit(v / scale)
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
