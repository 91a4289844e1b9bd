package acquisition

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// SequentialOption configures a Sequential evaluator.
type SequentialOption func(*Sequential)

// WithEvaluatorLogger sets the logger for search diagnostics.
func WithEvaluatorLogger(logger *zap.Logger) SequentialOption {
	return func(s *Sequential) {
		if logger != nil {
			s.logger = logger.Named("sequential")
		}
	}
}

// WithSweep sets the number of random candidates scored before the local
// searches start.
func WithSweep(n int) SequentialOption {
	return func(s *Sequential) {
		if n > 0 {
			s.sweep = n
		}
	}
}

// Sequential maximizes an acquisition function over the unit cube and
// proposes one candidate per call. It keeps no state between calls.
type Sequential struct {
	acq    Function
	dim    int
	rng    *rand.Rand
	logger *zap.Logger
	sweep  int
	starts int
}

// NewSequential creates an evaluator for acq over [0, 1]^dim.
func NewSequential(acq Function, dim int, rng *rand.Rand, opts ...SequentialOption) *Sequential {
	s := &Sequential{
		acq:    acq,
		dim:    dim,
		rng:    rng,
		logger: zap.NewNop(),
		sweep:  100 + 50*dim,
		starts: 5 + int(5*math.Sqrt(float64(dim))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquisition returns the function being maximized.
func (s *Sequential) Acquisition() Function { return s.acq }

type candidate struct {
	x     []float64
	value float64
}

// ComputeBatch runs a fresh search of the current acquisition surface and
// returns the best point in model space with its acquisition value.
func (s *Sequential) ComputeBatch(ctx context.Context) ([]float64, float64, error) {
	const op = "Sequential.ComputeBatch"

	if s.dim <= 0 {
		return nil, 0, optimization.WrapErrorf(optimization.ErrDimension, "search dimension is %d", s.dim).WithOperation(op)
	}
	if err := s.acq.Prepare(); err != nil {
		return nil, 0, optimization.WrapError(err, "failed to prepare acquisition").WithOperation(op)
	}

	// Random sweep to seed the local searches.
	pool := make([]candidate, 0, s.sweep)
	for i := 0; i < s.sweep; i++ {
		x := make([]float64, s.dim)
		for j := range x {
			x[j] = s.rng.Float64()
		}
		v, err := s.acq.Evaluate(x)
		if err != nil {
			return nil, 0, optimization.WrapError(err, "failed to evaluate acquisition").WithOperation(op)
		}
		pool = append(pool, candidate{x: x, value: v})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].value > pool[j].value })

	best := pool[0]
	nStarts := s.starts
	if nStarts > len(pool) {
		nStarts = len(pool)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			v, err := s.acq.Evaluate(clampUnit(x))
			if err != nil || math.IsNaN(v) {
				return math.MaxFloat64
			}
			// Negate because we're minimizing
			return -v
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
	}

	for i := 0; i < nStarts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		method := &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.2,
		}
		result, err := optimize.Minimize(problem, pool[i].x, settings, method)
		if result == nil {
			s.logger.Debug("Local search failed", zap.Int("start", i), zap.Error(err))
			continue
		}
		x := clampUnit(result.X)
		v, err := s.acq.Evaluate(x)
		if err != nil {
			continue
		}
		if v > best.value {
			best = candidate{x: x, value: v}
		}
	}

	s.logger.Debug("Acquisition maximized",
		zap.String("acquisition", s.acq.Name()),
		zap.Float64s("x", best.x),
		zap.Float64("value", best.value),
	)
	return best.x, best.value, nil
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(v, 1))
	}
	return out
}
