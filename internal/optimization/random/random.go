// Package random implements pure random search over a search space. It
// shares the ask/tell contract of the Bayesian optimizer and serves as its
// baseline.
package random

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Search proposes independent uniform samples every round. It never fits a
// model; UpdateModel only records the observations.
type Search struct {
	config optimization.Config
	rng    *rand.Rand
	logger *zap.Logger

	design *space.Space
	search *space.Space
	fixed  optimization.Sample

	X [][]float64
	Y []float64
}

// New validates cfg and creates a random search optimizer.
func New(cfg optimization.Config, logger *zap.Logger) (*Search, error) {
	if cfg.Optimizer == "" {
		cfg.Optimizer = optimization.RandomSearch
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Search{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("random_search"),
	}, nil
}

// Config returns the validated configuration.
func (s *Search) Config() optimization.Config { return s.config }

// Reset binds the spaces and forgets all observations.
func (s *Search) Reset(design, search *space.Space) error {
	if design == nil {
		return optimization.ConfigErrorf("design space is required").WithOperation("Search.Reset")
	}
	if search == nil {
		search = design
	}
	if err := search.SubspaceOf(design); err != nil {
		return err
	}
	s.design, s.search = design, search
	s.X, s.Y = nil, nil
	return nil
}

// SetContext sets the values of design variables outside the search space.
func (s *Search) SetContext(fixed optimization.Sample) { s.fixed = fixed.Clone() }

// RandomSample draws n uniform design-space samples.
func (s *Search) RandomSample(n int) ([]optimization.Sample, error) {
	if s.search == nil {
		return nil, optimization.WrapError(optimization.ErrDimension, "input dimension is not set, call Reset first").WithOperation("Search.RandomSample")
	}
	return space.InverseTransform(s.search.RandomSamples(n, s.rng), s.search, s.design, s.fixed)
}

// Suggest returns n uniform samples (n <= 0 means one).
func (s *Search) Suggest(n int) ([]optimization.Sample, error) {
	return s.SuggestContext(context.Background(), n)
}

// SuggestContext is Suggest; sampling does not block so ctx is only checked
// on entry.
func (s *Search) SuggestContext(ctx context.Context, n int) ([]optimization.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}
	return s.RandomSample(n)
}

// UpdateModel records the new rows of data.Target under the same contract
// as the Bayesian optimizer: the data must extend the stored history.
func (s *Search) UpdateModel(data optimization.Data) (optimization.FitOutcome, error) {
	const op = "Search.UpdateModel"

	if s.search == nil {
		return optimization.FitSuccess, optimization.WrapError(optimization.ErrDimension, "input dimension is not set, call Reset first").WithOperation(op)
	}
	if data.Target == nil {
		return optimization.FitSuccess, optimization.DataContractErrorf("data has no Target entry").WithOperation(op)
	}
	rows, err := data.Target.Rows()
	if err != nil {
		return optimization.FitSuccess, err
	}
	if rows < len(s.Y) {
		return optimization.FitSuccess, optimization.DataContractErrorf("data has %d rows but %d are already stored", rows, len(s.Y)).WithOperation(op)
	}
	dim := s.search.InputDim()
	for i := 0; i < rows; i++ {
		if len(data.Target.X[i]) != dim {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d has %d columns, expected %d", i, len(data.Target.X[i]), dim).WithOperation(op)
		}
		if y := data.Target.Y[i]; math.IsNaN(y) || math.IsInf(y, 0) {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d has non-finite target %v", i, y).WithOperation(op)
		}
	}
	for i := range s.Y {
		if !floats.Equal(s.X[i], data.Target.X[i]) || s.Y[i] != data.Target.Y[i] {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d differs from the stored observation", i).WithOperation(op)
		}
	}
	for i := len(s.Y); i < rows; i++ {
		s.X = append(s.X, append([]float64(nil), data.Target.X[i]...))
		s.Y = append(s.Y, data.Target.Y[i])
	}
	s.logger.Debug("Recorded observations", zap.Int("observations", len(s.Y)))
	return optimization.FitSuccess, nil
}

// Observe packs samples and records them with their values.
func (s *Search) Observe(samples []optimization.Sample, values []float64) (optimization.FitOutcome, error) {
	if s.search == nil {
		return optimization.FitSuccess, optimization.WrapError(optimization.ErrDimension, "input dimension is not set, call Reset first").WithOperation("Search.Observe")
	}
	if len(samples) != len(values) {
		return optimization.FitSuccess, optimization.DataContractErrorf("%d samples but %d values", len(samples), len(values)).WithOperation("Search.Observe")
	}
	packed, err := s.search.PackAll(samples)
	if err != nil {
		return optimization.FitSuccess, err
	}
	X := append(append([][]float64(nil), s.X...), packed...)
	Y := append(append([]float64(nil), s.Y...), values...)
	return s.UpdateModel(optimization.Data{Target: &optimization.Dataset{X: X, Y: Y}})
}

// Best returns the observed design-space sample with the lowest objective.
func (s *Search) Best() (optimization.Sample, float64, bool) {
	if len(s.Y) == 0 {
		return nil, 0, false
	}
	i := floats.MinIdx(s.Y)
	smp, err := s.search.UnpackOne(s.X[i])
	if err != nil {
		return nil, 0, false
	}
	out, err := space.InverseTransform([]optimization.Sample{smp}, s.search, s.design, s.fixed)
	if err != nil {
		return nil, 0, false
	}
	return out[0], s.Y[i], true
}

// Observations returns a copy of the recorded history.
func (s *Search) Observations() ([][]float64, []float64) {
	X := make([][]float64, len(s.X))
	for i, row := range s.X {
		X[i] = append([]float64(nil), row...)
	}
	return X, append([]float64(nil), s.Y...)
}
