// Package normalize maps raw objective values to a scale suited to
// surrogate fitting and back.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// minScale keeps a constant output vector from producing a zero divisor.
const minScale = 1e-12

// Normalizer is fitted on the observed outputs and then applied to them.
type Normalizer interface {
	// Fit learns the transform from y.
	Fit(y []float64)
	// Transform returns a normalized copy of y.
	Transform(y []float64) []float64
	// Inverse maps normalized values back to the raw scale.
	Inverse(y []float64) []float64
	// InverseVariance maps a normalized variance back to the raw scale.
	InverseVariance(v float64) float64
}

// FitTransform fits n on y and returns the transformed values.
func FitTransform(n Normalizer, y []float64) []float64 {
	n.Fit(y)
	return n.Transform(y)
}

// New resolves a normalizer by name.
func New(name string) (Normalizer, error) {
	switch name {
	case "", "none":
		return Identity{}, nil
	case "standard":
		return &Standard{std: 1}, nil
	case "minmax":
		return &MinMax{scale: 1}, nil
	default:
		return nil, &optimization.UnknownNameError{Registry: "normalizer", Name: name}
	}
}

// Identity leaves values unchanged.
type Identity struct{}

func (Identity) Fit([]float64) {}

func (Identity) Transform(y []float64) []float64 { return append([]float64(nil), y...) }

func (Identity) Inverse(y []float64) []float64 { return append([]float64(nil), y...) }

func (Identity) InverseVariance(v float64) float64 { return v }

// Standard rescales to zero mean and unit standard deviation.
type Standard struct {
	mean, std float64
}

func (s *Standard) Fit(y []float64) {
	if len(y) == 0 {
		s.mean, s.std = 0, 1
		return
	}
	s.mean = stat.Mean(y, nil)
	s.std = 1
	if len(y) > 1 {
		s.std = math.Max(stat.PopStdDev(y, nil), minScale)
	}
}

func (s *Standard) Transform(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - s.mean) / s.std
	}
	return out
}

func (s *Standard) Inverse(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = v*s.std + s.mean
	}
	return out
}

func (s *Standard) InverseVariance(v float64) float64 { return v * s.std * s.std }

// MinMax rescales to [0, 1] over the fitted range.
type MinMax struct {
	min, scale float64
}

func (m *MinMax) Fit(y []float64) {
	if len(y) == 0 {
		m.min, m.scale = 0, 1
		return
	}
	m.min = floats.Min(y)
	m.scale = math.Max(floats.Max(y)-m.min, minScale)
}

func (m *MinMax) Transform(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - m.min) / m.scale
	}
	return out
}

func (m *MinMax) Inverse(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = v*m.scale + m.min
	}
	return out
}

func (m *MinMax) InverseVariance(v float64) float64 { return v * m.scale * m.scale }
