package bayesian

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/acquisition"
	"github.com/copyleftdev/seqopt/internal/optimization/normalize"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// surrogateState is the lifecycle of the optimizer's model slot.
type surrogateState int

const (
	surrogateUninitialized surrogateState = iota
	surrogateFitted
)

// surrogate owns the GP. It moves from Uninitialized to Fitted on the first
// successful fit and only returns to Uninitialized through Reset.
type surrogate struct {
	state surrogateState
	gp    *GP
	// rows is the number of observations the posterior was computed from.
	rows int
}

func (s *surrogate) fitted() bool { return s.state == surrogateFitted }

// VanillaBO is Gaussian Process Bayesian optimization driven through an
// ask/tell interface. It is not safe for concurrent use: callers must
// serialize Suggest and UpdateModel.
type VanillaBO struct {
	config optimization.Config
	rng    *rand.Rand
	logger *zap.Logger

	design *space.Space
	search *space.Space
	// fixed holds values for design variables that are not searched.
	fixed optimization.Sample

	// Observation set in packed search-space coordinates. Append-only.
	X [][]float64
	Y []float64

	initQueue []optimization.Sample

	model       surrogate
	normalizer  normalize.Normalizer
	acquisition acquisition.Function
	evaluator   *acquisition.Sequential
}

// NewVanillaBO validates cfg and creates an optimizer. Reset must be called
// before the optimizer can suggest points.
func NewVanillaBO(cfg optimization.Config, logger *zap.Logger) (*VanillaBO, error) {
	if cfg.Optimizer == "" {
		cfg.Optimizer = optimization.VanillaBO
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := acquisition.New(cfg.Acquisition, nil, acquisition.Params{}); err != nil {
		return nil, err
	}
	if _, err := normalize.New(cfg.Normalize); err != nil {
		return nil, err
	}

	// Initialize random number generator
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VanillaBO{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("vanilla_bo"),
	}, nil
}

// Config returns the validated configuration with defaults applied.
func (bo *VanillaBO) Config() optimization.Config { return bo.config }

// Reset binds the design space and the searched subspace (nil means the
// whole design space), clears all observations and returns the surrogate
// to its uninitialized state.
func (bo *VanillaBO) Reset(design, search *space.Space) error {
	const op = "VanillaBO.Reset"

	if design == nil {
		return optimization.ConfigErrorf("design space is required").WithOperation(op)
	}
	if search == nil {
		search = design
	}
	if err := search.SubspaceOf(design); err != nil {
		return err
	}
	norm, err := normalize.New(bo.config.Normalize)
	if err != nil {
		return err
	}
	acq, err := acquisition.New(bo.config.Acquisition, bo, bo.acquisitionParams())
	if err != nil {
		return err
	}

	bo.design, bo.search = design, search
	bo.X, bo.Y = nil, nil
	bo.initQueue = nil
	bo.model = surrogate{}
	bo.normalizer = norm
	bo.acquisition = acq
	bo.evaluator = acquisition.NewSequential(acq, search.InputDim(), bo.rng, acquisition.WithEvaluatorLogger(bo.logger))

	bo.logger.Debug("Optimizer reset",
		zap.Strings("design", design.Names()),
		zap.Strings("search", search.Names()),
		zap.String("acquisition", acq.Name()),
	)
	return nil
}

// SetContext sets the values of design variables outside the search space.
func (bo *VanillaBO) SetContext(fixed optimization.Sample) {
	bo.fixed = fixed.Clone()
}

func (bo *VanillaBO) acquisitionParams() acquisition.Params {
	return acquisition.Params{Xi: *bo.config.Xi, Beta: *bo.config.Beta, Rand: bo.rng}
}

func (bo *VanillaBO) requireSpace(op string) error {
	if bo.search == nil {
		return optimization.WrapError(optimization.ErrDimension, "input dimension is not set, call Reset first").WithOperation(op)
	}
	return nil
}

// InitialSample draws InitNumber samples of the search space, uniformly or
// by Latin hypercube, and maps them to design-space samples.
func (bo *VanillaBO) InitialSample() ([]optimization.Sample, error) {
	if err := bo.requireSpace("VanillaBO.InitialSample"); err != nil {
		return nil, err
	}
	var samples []optimization.Sample
	if bo.config.InitMethod == optimization.InitLHS {
		samples = bo.search.LatinHypercube(*bo.config.InitNumber, bo.rng)
	} else {
		samples = bo.search.RandomSamples(*bo.config.InitNumber, bo.rng)
	}
	return space.InverseTransform(samples, bo.search, bo.design, bo.fixed)
}

// RandomSample draws n uniform samples of the search space.
func (bo *VanillaBO) RandomSample(n int) ([]optimization.Sample, error) {
	if err := bo.requireSpace("VanillaBO.RandomSample"); err != nil {
		return nil, err
	}
	return space.InverseTransform(bo.search.RandomSamples(n, bo.rng), bo.search, bo.design, bo.fixed)
}

// Suggest is SuggestContext with a background context.
func (bo *VanillaBO) Suggest(n int) ([]optimization.Sample, error) {
	return bo.SuggestContext(context.Background(), n)
}

// SuggestContext proposes n points (n <= 0 means one).
//
// Until InitNumber observations exist the points come from the initial
// design: it is drawn when no observations exist and handed out n at a
// time, and fresh uniform samples are used once it is used up. Afterwards
// the surrogate is refit if new data arrived and the acquisition function
// is maximized; a batch is built by conditioning on earlier candidates at
// their posterior mean.
func (bo *VanillaBO) SuggestContext(ctx context.Context, n int) ([]optimization.Sample, error) {
	const op = "VanillaBO.Suggest"

	if err := bo.requireSpace(op); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}

	if len(bo.Y) < *bo.config.InitNumber {
		return bo.initialPhase(n)
	}

	if bo.model.rows != len(bo.Y) {
		if _, err := bo.fit(); err != nil {
			return nil, err
		}
	}
	if !bo.model.fitted() {
		bo.logger.Warn("Surrogate unavailable, falling back to random samples", zap.Int("observations", len(bo.Y)))
		return bo.RandomSample(n)
	}

	candidates := make([][]float64, 0, n)
	evaluator := bo.evaluator
	model := bo.model.gp
	for i := 0; i < n; i++ {
		u, value, err := evaluator.ComputeBatch(ctx)
		if err != nil {
			return nil, optimization.WrapError(err, "failed to maximize acquisition").WithOperation(op)
		}
		candidates = append(candidates, u)
		bo.logger.Debug("Candidate selected",
			zap.Int("index", i),
			zap.Float64s("x", u),
			zap.Float64("acquisition", value),
		)
		if i == n-1 {
			break
		}

		// Kriging believer: pretend the candidate was observed at its mean.
		mean, _, err := model.PredictPoint(u)
		if err != nil {
			return nil, err
		}
		model, err = model.Fantasize(mat.NewDense(1, len(u), u), []float64{mean})
		if err != nil {
			return nil, optimization.WrapError(err, "failed to condition on pending candidate").WithOperation(op)
		}
		acq, err := acquisition.New(bo.config.Acquisition, &fantasy{gp: model, parent: bo}, bo.acquisitionParams())
		if err != nil {
			return nil, err
		}
		evaluator = acquisition.NewSequential(acq, bo.search.InputDim(), bo.rng, acquisition.WithEvaluatorLogger(bo.logger))
	}

	searchSamples := make([]optimization.Sample, len(candidates))
	for i, u := range candidates {
		smp, err := bo.search.UnpackOne(bo.search.FromUnit(u))
		if err != nil {
			return nil, err
		}
		searchSamples[i] = smp
	}
	return space.InverseTransform(searchSamples, bo.search, bo.design, bo.fixed)
}

// initialPhase serves points while fewer than InitNumber observations exist.
func (bo *VanillaBO) initialPhase(n int) ([]optimization.Sample, error) {
	if len(bo.Y) == 0 && len(bo.initQueue) == 0 {
		design, err := bo.InitialSample()
		if err != nil {
			return nil, err
		}
		bo.initQueue = design
	}

	take := n
	if take > len(bo.initQueue) {
		take = len(bo.initQueue)
	}
	out := append([]optimization.Sample(nil), bo.initQueue[:take]...)
	bo.initQueue = bo.initQueue[take:]

	if len(out) < n {
		extra, err := bo.RandomSample(n - len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, extra...)
	}
	return out, nil
}

// UpdateModel accepts the accumulated observation history. data.Target
// must have matching row counts, InputDim columns and finite targets, and
// must extend the stored history; otherwise an ErrDataContract error is
// returned and nothing changes. New rows are appended and the surrogate is
// created or refit.
//
// A covariance that cannot be factorized does not fail the call: the
// surrogate keeps its previous hyperparameters and
// FitSkippedNumericalInstability is returned.
func (bo *VanillaBO) UpdateModel(data optimization.Data) (optimization.FitOutcome, error) {
	const op = "VanillaBO.UpdateModel"

	if err := bo.requireSpace(op); err != nil {
		return optimization.FitSuccess, err
	}
	if data.Target == nil {
		return optimization.FitSuccess, optimization.DataContractErrorf("data has no Target entry").WithOperation(op)
	}
	rows, err := data.Target.Rows()
	if err != nil {
		return optimization.FitSuccess, err
	}
	dim := bo.search.InputDim()
	for i := 0; i < rows; i++ {
		if len(data.Target.X[i]) != dim {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d has %d columns, expected %d", i, len(data.Target.X[i]), dim).WithOperation(op)
		}
		if y := data.Target.Y[i]; math.IsNaN(y) || math.IsInf(y, 0) {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d has non-finite target %v", i, y).WithOperation(op)
		}
	}
	if rows < len(bo.Y) {
		return optimization.FitSuccess, optimization.DataContractErrorf("data has %d rows but %d are already stored", rows, len(bo.Y)).WithOperation(op)
	}
	for i := range bo.Y {
		if !floats.Equal(bo.X[i], data.Target.X[i]) || bo.Y[i] != data.Target.Y[i] {
			return optimization.FitSuccess, optimization.DataContractErrorf("row %d differs from the stored observation", i).WithOperation(op)
		}
	}

	for i := len(bo.Y); i < rows; i++ {
		bo.X = append(bo.X, append([]float64(nil), data.Target.X[i]...))
		bo.Y = append(bo.Y, data.Target.Y[i])
	}
	return bo.fit()
}

// Observe packs design- or search-space samples with their objective values
// and passes the extended history to UpdateModel.
func (bo *VanillaBO) Observe(samples []optimization.Sample, values []float64) (optimization.FitOutcome, error) {
	const op = "VanillaBO.Observe"

	if err := bo.requireSpace(op); err != nil {
		return optimization.FitSuccess, err
	}
	if len(samples) != len(values) {
		return optimization.FitSuccess, optimization.DataContractErrorf("%d samples but %d values", len(samples), len(values)).WithOperation(op)
	}
	packed, err := bo.search.PackAll(samples)
	if err != nil {
		return optimization.FitSuccess, err
	}

	X := make([][]float64, 0, len(bo.X)+len(packed))
	X = append(append(X, bo.X...), packed...)
	Y := make([]float64, 0, len(bo.Y)+len(values))
	Y = append(append(Y, bo.Y...), values...)
	return bo.UpdateModel(optimization.Data{Target: &optimization.Dataset{X: X, Y: Y}})
}

// fit creates or refits the surrogate on the full observation set.
func (bo *VanillaBO) fit() (optimization.FitOutcome, error) {
	const op = "VanillaBO.fit"

	n := len(bo.Y)
	if n == 0 {
		return optimization.FitSuccess, nil
	}

	dim := bo.search.InputDim()
	X := mat.NewDense(n, dim, nil)
	for i, row := range bo.X {
		X.SetRow(i, bo.search.ToUnit(row))
	}
	norm, err := normalize.New(bo.config.Normalize)
	if err != nil {
		return optimization.FitSuccess, err
	}
	y := mat.NewVecDense(n, normalize.FitTransform(norm, bo.Y))

	var gp *GP
	switch bo.model.state {
	case surrogateUninitialized:
		kernel, err := NewSurrogateKernel(bo.config.Kernel, X)
		if err != nil {
			return optimization.FitSuccess, err
		}
		gp = NewGP(kernel, DefaultNoiseVar, WithLogger(bo.logger), WithRand(bo.rng))
	case surrogateFitted:
		gp = bo.model.gp
	}

	if err := gp.Fit(X, y); err != nil {
		if errors.Is(err, optimization.ErrNumerical) {
			bo.logger.Warn("Skipping surrogate fit after numerical failure",
				zap.Error(err),
				zap.Int("observations", n),
			)
			return optimization.FitSkippedNumericalInstability, nil
		}
		return optimization.FitSuccess, optimization.WrapError(err, "failed to fit surrogate").WithOperation(op)
	}
	// The GP now holds targets on norm's scale.
	bo.normalizer = norm
	outcome, err := gp.OptimizeHyperparameters(bo.config.Restarts)
	if err != nil {
		return outcome, optimization.WrapError(err, "failed to optimize hyperparameters").WithOperation(op)
	}

	bo.model = surrogate{state: surrogateFitted, gp: gp, rows: n}
	bo.logger.Debug("Surrogate updated",
		zap.Int("observations", n),
		zap.Stringer("outcome", outcome),
		zap.Float64s("hyperparameters", gp.Hyperparameters()),
	)
	return outcome, nil
}

func (bo *VanillaBO) requireModel(op string) error {
	if !bo.model.fitted() {
		return optimization.NewError("surrogate model is not fitted").WithOperation(op)
	}
	return nil
}

// FMin returns the minimum posterior mean over the observed inputs, on the
// normalized scale the surrogate is fitted on.
func (bo *VanillaBO) FMin() (float64, error) {
	if err := bo.requireModel("VanillaBO.FMin"); err != nil {
		return 0, err
	}
	return fmin(bo.model.gp)
}

func fmin(gp *GP) (float64, error) {
	mean, _, err := gp.Predict(gp.X)
	if err != nil {
		return 0, err
	}
	return mat.Min(mean), nil
}

// Predict returns posterior means and variances (not standard deviations)
// at model-space points.
func (bo *VanillaBO) Predict(X [][]float64) ([]float64, []float64, error) {
	const op = "VanillaBO.Predict"
	if err := bo.requireModel(op); err != nil {
		return nil, nil, err
	}
	Xm, err := toDense(X, bo.search.InputDim())
	if err != nil {
		return nil, nil, err.WithOperation(op)
	}
	mean, variance, perr := bo.model.gp.Predict(Xm)
	if perr != nil {
		return nil, nil, perr
	}
	return mat.Col(nil, 0, mean), mat.Col(nil, 0, variance), nil
}

// PredictPoint predicts a single model-space point.
func (bo *VanillaBO) PredictPoint(x []float64) (float64, float64, error) {
	mean, variance, err := bo.Predict([][]float64{x})
	if err != nil {
		return 0, 0, err
	}
	return mean[0], variance[0], nil
}

// PredictSamples returns posterior means and variances at design- or
// search-space samples, on the scale of the observed objective values.
func (bo *VanillaBO) PredictSamples(samples []optimization.Sample) ([]float64, []float64, error) {
	const op = "VanillaBO.PredictSamples"
	if err := bo.requireModel(op); err != nil {
		return nil, nil, err
	}
	packed, err := bo.search.PackAll(samples)
	if err != nil {
		return nil, nil, err
	}
	X := make([][]float64, len(packed))
	for i, row := range packed {
		X[i] = bo.search.ToUnit(row)
	}
	mean, variance, err := bo.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	for i, v := range variance {
		variance[i] = bo.normalizer.InverseVariance(v)
	}
	return bo.normalizer.Inverse(mean), variance, nil
}

// PosteriorSamples draws size joint samples at model-space points. The
// result has one row per point and one column per sample.
func (bo *VanillaBO) PosteriorSamples(X [][]float64, size int) (*mat.Dense, error) {
	const op = "VanillaBO.PosteriorSamples"
	if err := bo.requireModel(op); err != nil {
		return nil, err
	}
	Xm, err := toDense(X, bo.search.InputDim())
	if err != nil {
		return nil, err.WithOperation(op)
	}
	return bo.model.gp.PosteriorSamples(Xm, size, bo.rng)
}

// ModelHyperparameters returns the surrogate's kernel hyperparameters and
// noise variance, or nil while the surrogate is uninitialized.
func (bo *VanillaBO) ModelHyperparameters() []float64 {
	if !bo.model.fitted() {
		return nil
	}
	return bo.model.gp.Hyperparameters()
}

// Best returns the observed design-space sample with the lowest objective.
func (bo *VanillaBO) Best() (optimization.Sample, float64, bool) {
	if len(bo.Y) == 0 {
		return nil, 0, false
	}
	i := floats.MinIdx(bo.Y)
	smp, err := bo.search.UnpackOne(bo.X[i])
	if err != nil {
		return nil, 0, false
	}
	out, err := space.InverseTransform([]optimization.Sample{smp}, bo.search, bo.design, bo.fixed)
	if err != nil {
		return nil, 0, false
	}
	return out[0], bo.Y[i], true
}

// Observations returns a copy of the observation set.
func (bo *VanillaBO) Observations() ([][]float64, []float64) {
	X := make([][]float64, len(bo.X))
	for i, row := range bo.X {
		X[i] = append([]float64(nil), row...)
	}
	return X, append([]float64(nil), bo.Y...)
}

func toDense(X [][]float64, dim int) (*mat.Dense, *optimization.Error) {
	if len(X) == 0 {
		return nil, optimization.DataContractErrorf("no points given")
	}
	out := mat.NewDense(len(X), dim, nil)
	for i, row := range X {
		if len(row) != dim {
			return nil, optimization.DataContractErrorf("point %d has %d dims, expected %d", i, len(row), dim)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// fantasy exposes a conditioned copy of the surrogate to the acquisition
// function while keeping the incumbent of the real observations.
type fantasy struct {
	gp     *GP
	parent *VanillaBO
}

func (f *fantasy) PredictPoint(x []float64) (float64, float64, error) {
	return f.gp.PredictPoint(x)
}

func (f *fantasy) FMin() (float64, error) { return f.parent.FMin() }

var _ acquisition.Model = (*VanillaBO)(nil)
