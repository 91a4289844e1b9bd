package bayesian

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/kernels"
)

// Noise variance is kept inside [NoiseLower, NoiseUpper]: evaluations are
// assumed to be close to noiseless.
const (
	NoiseLower      = 1e-9
	NoiseUpper      = 1e-3
	DefaultNoiseVar = 1e-6
)

const (
	// minLengthScale floors data-driven length scales so a constant input
	// column does not produce a zero-width kernel.
	minLengthScale = 0.02
	// maternInitVariance and the Gamma(shape, rate) prior regularize the
	// Matern signal variance.
	maternInitVariance = 0.5
	varianceShape      = 0.5
	varianceRate       = 1.0

	maxJitterTries = 5
	// logParamBound limits log-hyperparameters during the search.
	logParamBound = 20.0
	// failurePenalty replaces the objective where the covariance cannot be
	// factorized.
	failurePenalty = 1e25
)

// GPOption configures a GP.
type GPOption func(*GP)

// WithLogger sets the logger used for fit diagnostics.
func WithLogger(logger *zap.Logger) GPOption {
	return func(gp *GP) {
		if logger != nil {
			gp.logger = logger.Named("gaussian_process")
		}
	}
}

// WithRand sets the source used to perturb hyperparameter restarts.
func WithRand(rng *rand.Rand) GPOption {
	return func(gp *GP) {
		if rng != nil {
			gp.rng = rng
		}
	}
}

// GP implements Gaussian Process regression with MAP-fitted hyperparameters.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	// Precomputed posterior
	alpha *mat.VecDense
	L     *mat.Cholesky

	matrixPool *MatrixPool
	logger     *zap.Logger
	rng        *rand.Rand

	// factorize computes the Cholesky factor of a covariance matrix. Tests
	// replace it to simulate singular matrices.
	factorize func(K *mat.SymDense) (*mat.Cholesky, error)
}

// NewGP creates a new Gaussian Process model. noiseVar is clamped to
// [NoiseLower, NoiseUpper].
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...GPOption) *GP {
	gp := &GP{
		kernel:     kernel,
		noiseVar:   math.Max(NoiseLower, math.Min(noiseVar, NoiseUpper)),
		matrixPool: NewMatrixPool(),
		logger:     zap.NewNop(),
		rng:        rand.New(rand.NewSource(1)),
	}
	gp.factorize = gp.jitterCholesky
	for _, opt := range opts {
		opt(gp)
	}
	return gp
}

// NewSurrogateKernel builds the named covariance with length scales
// initialised from the spread of X. The default is a linear kernel plus an
// ARD Matern 3/2 kernel whose variance carries a Gamma prior.
func NewSurrogateKernel(name string, X *mat.Dense) (kernels.Kernel, error) {
	ls := initialLengthScales(X)
	switch name {
	case "", "linear+matern32":
		m := kernels.NewMatern32Kernel(maternInitVariance, ls)
		m.SetVariancePrior(varianceShape, varianceRate)
		return kernels.NewSumKernel(kernels.NewLinearKernel(1.0), m), nil
	case "matern32":
		m := kernels.NewMatern32Kernel(maternInitVariance, ls)
		m.SetVariancePrior(varianceShape, varianceRate)
		return m, nil
	case "matern52":
		return kernels.NewMatern52Kernel(stat.Mean(ls, nil), 1.0), nil
	case "rbf":
		return kernels.NewRBFKernel(stat.Mean(ls, nil), 1.0), nil
	default:
		return nil, &optimization.UnknownNameError{Registry: "kernel", Name: name}
	}
}

// initialLengthScales returns the per-column population standard deviation
// of X floored at minLengthScale.
func initialLengthScales(X *mat.Dense) []float64 {
	n, d := X.Dims()
	ls := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		ls[j] = minLengthScale
		if n < 2 {
			continue
		}
		mat.Col(col, j, X)
		if s := stat.PopStdDev(col, nil); s > minLengthScale {
			ls[j] = s
		}
	}
	return ls
}

// Kernel returns the covariance function.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// NoiseVariance returns the likelihood noise variance.
func (gp *GP) NoiseVariance() float64 { return gp.noiseVar }

// Hyperparameters returns the kernel hyperparameters followed by the noise
// variance.
func (gp *GP) Hyperparameters() []float64 {
	return append(gp.kernel.Hyperparameters(), gp.noiseVar)
}

// NumData returns the number of training points.
func (gp *GP) NumData() int {
	if gp.X == nil {
		return 0
	}
	n, _ := gp.X.Dims()
	return n
}

// Fit replaces the training data and computes the posterior under the
// current hyperparameters. On error the previous data and posterior are
// kept. A covariance that cannot be factorized yields an error wrapping
// optimization.ErrNumerical.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return optimization.DataContractErrorf("input matrices must not be nil").WithComponent("gaussian_process").WithOperation(op)
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return optimization.DataContractErrorf("input matrix X must not be empty").WithComponent("gaussian_process").WithOperation(op)
	}
	if nSamples != y.Len() {
		return optimization.DataContractErrorf("dimension mismatch: X has %d samples but y has length %d",
			nSamples, y.Len()).WithComponent("gaussian_process").WithOperation(op)
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	Xc, yc := mat.DenseCopyOf(X), mat.VecDenseCopyOf(y)
	chol, alpha, err := gp.posterior(Xc, yc)
	if err != nil {
		return optimization.WrapError(err, "failed to compute posterior").WithComponent("gaussian_process").WithOperation(op)
	}
	gp.X, gp.y = Xc, yc
	gp.L, gp.alpha = chol, alpha
	return nil
}

// posterior factorizes K + noise*I for the given data and solves for alpha.
func (gp *GP) posterior(X *mat.Dense, y *mat.VecDense) (*mat.Cholesky, *mat.VecDense, error) {
	n, _ := X.Dims()
	K := gp.computeKernelMatrix(X)
	for i := 0; i < n; i++ {
		K.SetSym(i, i, K.At(i, i)+gp.noiseVar)
	}

	chol, err := gp.factorize(K)
	gp.matrixPool.PutSymDense(K)
	if err != nil {
		return nil, nil, err
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, nil, optimization.WrapError(optimization.ErrNumerical, err.Error())
		}
		gp.logger.Debug("Ill-conditioned covariance", zap.Float64("condition_number", float64(cond)))
	}
	return chol, alpha, nil
}

// computeKernelMatrix evaluates the kernel over all pairs of rows of X. The
// matrix comes from the pool and must be returned once factorized.
func (gp *GP) computeKernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := gp.matrixPool.GetSymDense(n)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(x1, x1))
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, X.RawRowView(j)))
		}
	}

	if ce := gp.logger.Check(zap.DebugLevel, "Kernel matrix condition number"); ce != nil {
		var svd mat.SVD
		if svd.Factorize(K, mat.SVDNone) {
			s := svd.Values(nil)
			cond := math.Inf(1)
			if s[len(s)-1] > 0 {
				cond = s[0] / s[len(s)-1]
			}
			ce.Write(
				zap.Float64("condition_number", cond),
				zap.Float64("max_singular_value", s[0]),
				zap.Float64("min_singular_value", s[len(s)-1]),
			)
		}
	}
	return K
}

// jitterCholesky factorizes K, adding growing diagonal jitter when K is not
// numerically positive definite.
func (gp *GP) jitterCholesky(K *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if chol.Factorize(K) {
		return &chol, nil
	}

	n := K.SymmetricDim()
	meanDiag := 0.0
	for i := 0; i < n; i++ {
		meanDiag += K.At(i, i)
	}
	meanDiag /= float64(n)
	if !(meanDiag > 0) || math.IsInf(meanDiag, 0) {
		return nil, optimization.WrapErrorf(optimization.ErrNumerical, "covariance diagonal is not positive (mean %v)", meanDiag)
	}

	Kj := mat.NewSymDense(n, nil)
	Kj.CopySym(K)
	jitter := meanDiag * 1e-6
	for attempt := 0; attempt < maxJitterTries; attempt++ {
		for i := 0; i < n; i++ {
			Kj.SetSym(i, i, K.At(i, i)+jitter)
		}
		if chol.Factorize(Kj) {
			gp.logger.Debug("Added jitter to covariance",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter))
			return &chol, nil
		}
		jitter *= 10
	}
	return nil, optimization.WrapErrorf(optimization.ErrNumerical,
		"covariance is not positive definite, even with jitter %g", jitter/10)
}

// LogMarginalLikelihood returns log p(y | X, θ) of the fitted model.
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if gp.L == nil {
		return 0, optimization.NewError("model not trained").WithComponent("gaussian_process").WithOperation("GP.LogMarginalLikelihood")
	}
	return logMarginal(gp.L, gp.alpha, gp.y), nil
}

func logMarginal(chol *mat.Cholesky, alpha, y *mat.VecDense) float64 {
	n := float64(y.Len())
	return -0.5*mat.Dot(y, alpha) - 0.5*chol.LogDet() - 0.5*n*math.Log(2*math.Pi)
}

// negLogPosterior is the MAP objective at the current hyperparameters.
func (gp *GP) negLogPosterior() (float64, error) {
	chol, alpha, err := gp.posterior(gp.X, gp.y)
	if err != nil {
		return 0, err
	}
	v := -(logMarginal(chol, alpha, gp.y) + kernels.LogPrior(gp.kernel))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, optimization.WrapErrorf(optimization.ErrNumerical, "objective is %v", v)
	}
	return v, nil
}

// params returns the unconstrained search coordinates: log kernel
// hyperparameters followed by the logit of the noise position in its bounds.
func (gp *GP) params() []float64 {
	h := gp.kernel.Hyperparameters()
	theta := make([]float64, len(h)+1)
	for i, v := range h {
		theta[i] = math.Log(v)
	}
	frac := (gp.noiseVar - NoiseLower) / (NoiseUpper - NoiseLower)
	frac = math.Max(1e-6, math.Min(frac, 1-1e-6))
	theta[len(h)] = math.Log(frac / (1 - frac))
	return theta
}

func (gp *GP) setParams(theta []float64) error {
	last := len(theta) - 1
	h := make([]float64, last)
	for i := range h {
		h[i] = math.Exp(math.Max(-logParamBound, math.Min(theta[i], logParamBound)))
	}
	if err := gp.kernel.SetHyperparameters(h); err != nil {
		return err
	}
	gp.noiseVar = NoiseLower + (NoiseUpper-NoiseLower)/(1+math.Exp(-theta[last]))
	return nil
}

// OptimizeHyperparameters maximizes the log posterior of the hyperparameters
// with Nelder-Mead. The first run starts from the current values and each
// further restart from a random perturbation of them.
//
// A covariance that cannot be factorized is not returned as an error: the
// previous hyperparameters are restored and FitSkippedNumericalInstability
// is reported.
func (gp *GP) OptimizeHyperparameters(restarts int) (optimization.FitOutcome, error) {
	const op = "GP.OptimizeHyperparameters"

	if gp.X == nil {
		return optimization.FitSuccess, optimization.NewError("model not trained").WithComponent("gaussian_process").WithOperation(op)
	}
	if restarts < 1 {
		restarts = 1
	}

	prevHyper := gp.kernel.Hyperparameters()
	prevNoise := gp.noiseVar
	skip := func(cause error) (optimization.FitOutcome, error) {
		_ = gp.kernel.SetHyperparameters(prevHyper)
		gp.noiseVar = prevNoise
		gp.logger.Warn("Skipping hyperparameter fit after numerical failure",
			zap.Error(cause),
			zap.Int("samples", gp.NumData()),
		)
		return optimization.FitSkippedNumericalInstability, nil
	}

	start := gp.params()
	bestF, err := gp.negLogPosterior()
	if err != nil {
		if errors.Is(err, optimization.ErrNumerical) {
			return skip(err)
		}
		return optimization.FitSuccess, optimization.WrapError(err, "failed to evaluate objective").WithComponent("gaussian_process").WithOperation(op)
	}
	best := append([]float64(nil), start...)

	failures := 0
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			if err := gp.setParams(theta); err != nil {
				return failurePenalty
			}
			v, err := gp.negLogPosterior()
			if err != nil {
				failures++
				return failurePenalty
			}
			return v
		},
	}

	settings := &optimize.Settings{
		MajorIterations: 400,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 50,
		},
	}

	for r := 0; r < restarts; r++ {
		x0 := append([]float64(nil), start...)
		if r > 0 {
			for i := range x0 {
				x0[i] += gp.rng.NormFloat64()
			}
		}
		method := &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.5,
		}
		result, err := optimize.Minimize(problem, x0, settings, method)
		if result == nil {
			gp.logger.Debug("Hyperparameter restart failed", zap.Int("restart", r), zap.Error(err))
			continue
		}
		if !math.IsNaN(result.F) && result.F < bestF {
			bestF = result.F
			best = append(best[:0], result.X...)
		}
	}

	if err := gp.setParams(best); err != nil {
		return skip(err)
	}
	chol, alpha, err := gp.posterior(gp.X, gp.y)
	if err != nil {
		return skip(err)
	}
	gp.L, gp.alpha = chol, alpha

	gp.logger.Debug("Optimized hyperparameters",
		zap.Float64s("hyperparameters", gp.Hyperparameters()),
		zap.Float64("neg_log_posterior", bestF),
		zap.Int("failed_evaluations", failures),
	)
	return optimization.FitSuccess, nil
}

// Predict returns the mean and variance of the posterior predictive
// distribution at the rows of X. The variance includes the likelihood noise.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, optimization.DataContractErrorf("input matrix X is nil").WithComponent("gaussian_process").WithOperation(op)
	}
	if gp == nil || gp.X == nil || gp.alpha == nil {
		return nil, nil, optimization.NewError("model not trained or no training data").WithComponent("gaussian_process").WithOperation(op)
	}

	nTest, dTest := X.Dims()
	nTrain, nFeatures := gp.X.Dims()
	if nTest == 0 || dTest != nFeatures {
		return nil, nil, optimization.DataContractErrorf("test points have %d features, model has %d", dTest, nFeatures).WithComponent("gaussian_process").WithOperation(op)
	}

	Kstar := gp.matrixPool.GetDense(nTest, nTrain)
	defer gp.matrixPool.PutDense(Kstar)
	Kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		Kss[i] = gp.kernel.Eval(xStar, xStar) + gp.noiseVar
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// diag(K** - K* K^-1 K*^T)
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.L.SolveTo(v, Kstar.T()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, nil, optimization.WrapError(err, "failed to solve linear system").WithComponent("gaussian_process").WithOperation(op)
		}
	}
	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		var sum float64
		for j := 0; j < nTrain; j++ {
			sum += Kstar.At(i, j) * v.At(j, i)
		}
		s := Kss[i] - sum
		if s < 0 {
			gp.logger.Debug("Negative variance detected, clamping to zero",
				zap.Float64("variance", s),
				zap.Int("test_point", i),
			)
			s = 0
		}
		variance.SetVec(i, s)
	}
	return mean, variance, nil
}

// PredictPoint is Predict for a single point.
func (gp *GP) PredictPoint(x []float64) (float64, float64, error) {
	mean, variance, err := gp.Predict(mat.NewDense(1, len(x), append([]float64(nil), x...)))
	if err != nil {
		return 0, 0, err
	}
	return mean.AtVec(0), variance.AtVec(0), nil
}

// PosteriorSamples draws size joint samples of the observed process at the
// rows of X. The result has one row per point and one column per sample.
func (gp *GP) PosteriorSamples(X *mat.Dense, size int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GP.PosteriorSamples"

	if X == nil {
		return nil, optimization.DataContractErrorf("input matrix X is nil").WithComponent("gaussian_process").WithOperation(op)
	}
	if size <= 0 {
		return nil, optimization.DataContractErrorf("number of samples must be positive, got %d", size).WithComponent("gaussian_process").WithOperation(op)
	}
	if gp.L == nil {
		return nil, optimization.NewError("model not trained").WithComponent("gaussian_process").WithOperation(op)
	}

	nTest, dTest := X.Dims()
	nTrain, nFeatures := gp.X.Dims()
	if nTest == 0 || dTest != nFeatures {
		return nil, optimization.DataContractErrorf("test points have %d features, model has %d", dTest, nFeatures).WithComponent("gaussian_process").WithOperation(op)
	}

	Kstar := mat.NewDense(nTest, nTrain, nil)
	for i := 0; i < nTest; i++ {
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(X.RawRowView(i), gp.X.RawRowView(j)))
		}
	}
	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// cov = K** - K* K^-1 K*^T
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.L.SolveTo(v, Kstar.T()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, optimization.WrapError(err, "failed to solve linear system").WithComponent("gaussian_process").WithOperation(op)
		}
	}
	var reduce mat.Dense
	reduce.Mul(Kstar, v)
	cov := mat.NewSymDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		for j := i; j < nTest; j++ {
			k := gp.kernel.Eval(X.RawRowView(i), X.RawRowView(j))
			cov.SetSym(i, j, k-0.5*(reduce.At(i, j)+reduce.At(j, i)))
		}
	}

	root, err := gp.covarianceRoot(cov)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to factorize posterior covariance").WithComponent("gaussian_process").WithOperation(op)
	}

	z := mat.NewDense(nTest, size, nil)
	for i := 0; i < nTest; i++ {
		for j := 0; j < size; j++ {
			z.Set(i, j, rng.NormFloat64())
		}
	}
	samples := mat.NewDense(nTest, size, nil)
	samples.Mul(root, z)

	noiseStd := math.Sqrt(gp.noiseVar)
	for i := 0; i < nTest; i++ {
		for j := 0; j < size; j++ {
			samples.Set(i, j, samples.At(i, j)+mean.AtVec(i)+noiseStd*rng.NormFloat64())
		}
	}
	return samples, nil
}

// covarianceRoot returns A with A*A^T = cov. It uses a jittered Cholesky
// factor and falls back to an SVD square root for semi-definite matrices.
func (gp *GP) covarianceRoot(cov *mat.SymDense) (mat.Matrix, error) {
	if chol, err := gp.jitterCholesky(cov); err == nil {
		var L mat.TriDense
		chol.LTo(&L)
		return &L, nil
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD factorization failed", optimization.ErrNumerical)
	}
	var U mat.Dense
	svd.UTo(&U)
	s := svd.Values(nil)
	sqrtS := mat.NewDiagDense(len(s), nil)
	for i, val := range s {
		sqrtS.SetDiag(i, math.Sqrt(math.Max(0, val)))
	}
	var root mat.Dense
	root.Mul(&U, sqrtS)
	gp.logger.Debug("Using SVD square root for posterior covariance",
		zap.Float64("max_singular_value", s[0]),
		zap.Float64("min_singular_value", s[len(s)-1]),
	)
	return &root, nil
}

// Fantasize returns a copy of the model conditioned on extra points with
// the given targets. The copy shares the kernel, so its hyperparameters
// must not be optimized.
func (gp *GP) Fantasize(Xnew *mat.Dense, ynew []float64) (*GP, error) {
	if gp.X == nil {
		return nil, optimization.NewError("model not trained").WithComponent("gaussian_process").WithOperation("GP.Fantasize")
	}
	n, d := gp.X.Dims()
	m, _ := Xnew.Dims()
	X := mat.NewDense(n+m, d, nil)
	X.Stack(gp.X, Xnew)
	y := mat.NewVecDense(n+m, nil)
	for i := 0; i < n; i++ {
		y.SetVec(i, gp.y.AtVec(i))
	}
	for i, v := range ynew {
		y.SetVec(n+i, v)
	}

	f := &GP{
		kernel:     gp.kernel,
		noiseVar:   gp.noiseVar,
		matrixPool: NewMatrixPool(),
		logger:     gp.logger,
		rng:        gp.rng,
		factorize:  gp.factorize,
	}
	if err := f.Fit(X, y); err != nil {
		return nil, err
	}
	return f, nil
}
