// Package experiment drives optimizers against benchmark problems with the
// ask/evaluate/tell loop.
package experiment

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	"github.com/copyleftdev/seqopt/internal/metrics"
	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/registry"
)

// Runner holds the settings shared by every run.
type Runner struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	batchSize int
	timeout   time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records iterations, evaluations and fits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBatchSize sets how many samples are requested per round.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTimeout bounds each problem's loop. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a Runner with batch size one and no timeout.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: zap.NewNop(), batchSize: 1}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("experiment")
	return r
}

// Run is NewRunner(opts...).Run.
func Run(ctx context.Context, opt registry.Optimizer, problem benchmark.Problem, opts ...Option) (*optimization.OptimizationResult, error) {
	return NewRunner(opts...).Run(ctx, opt, problem)
}

// Run binds opt to the problem's space and alternates Suggest, Evaluate and
// Observe until the budget is spent or ctx ends. A deadline ends the run
// normally with Exhausted false; cancellation is returned as an error along
// with the partial result.
func (r *Runner) Run(ctx context.Context, opt registry.Optimizer, problem benchmark.Problem) (*optimization.OptimizationResult, error) {
	info := problem.Info()
	if err := opt.Reset(info.Space, nil); err != nil {
		return nil, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	name := opt.Config().Optimizer
	log := r.logger.With(zap.String("task", info.Name), zap.String("optimizer", string(name)))
	res := &optimization.OptimizationResult{Task: info.Name, BestValue: math.Inf(1)}
	log.Info("Starting run", zap.Int("budget", info.Budget), zap.Int("input_dim", info.Space.InputDim()))

	stop := func(err error) (*optimization.OptimizationResult, error) {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Run timed out", zap.Int("evaluations", len(res.History)))
			return res, nil
		}
		return res, err
	}

	for len(res.History) < info.Budget {
		if err := ctx.Err(); err != nil {
			return stop(err)
		}
		n := min(r.batchSize, info.Budget-len(res.History))

		samples, err := opt.SuggestContext(ctx, n)
		if err != nil {
			return stop(err)
		}
		r.metrics.Suggested(name, len(samples))

		start := time.Now()
		values, err := problem.Evaluate(ctx, samples)
		r.metrics.Evaluated(info.Name, time.Since(start), err)
		if err != nil {
			return stop(err)
		}

		outcome, err := opt.Observe(samples, values)
		if err != nil {
			return res, err
		}
		r.metrics.Fitted(name, outcome)
		if outcome == optimization.FitSkippedNumericalInstability {
			log.Warn("Surrogate update skipped", zap.Int("round", res.Iterations))
		}

		for i, smp := range samples {
			res.History = append(res.History, optimization.Evaluation{
				Iteration: res.Iterations,
				Sample:    smp,
				Value:     values[i],
			})
			if values[i] < res.BestValue {
				res.Best, res.BestValue = smp, values[i]
			}
		}
		res.Iterations++
		r.metrics.Iteration(info.Name, res.BestValue)
		log.Debug("Round finished",
			zap.Int("round", res.Iterations),
			zap.Float64("best", res.BestValue),
			zap.Stringer("outcome", outcome))
	}

	res.Exhausted = true
	log.Info("Run finished", zap.Float64("best", res.BestValue), zap.Stringer("best_sample", res.Best))
	return res, nil
}

// RunSuite builds a fresh optimizer from cfg for every problem of the suite
// and runs them in order. The first error stops the suite.
func (r *Runner) RunSuite(ctx context.Context, suite *benchmark.Suite, cfg optimization.Config) ([]*optimization.OptimizationResult, error) {
	var out []*optimization.OptimizationResult
	for _, p := range suite.Problems() {
		opt, err := registry.New(cfg, r.logger)
		if err != nil {
			return out, err
		}
		res, err := r.Run(ctx, opt, p)
		if res != nil {
			out = append(out, res)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
