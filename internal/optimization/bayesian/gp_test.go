package bayesian

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/kernels"
)

func TestGPFitAndPredict(t *testing.T) {
	// Simple test with 3 points
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), 1e-6)
	err := gp.Fit(X, y)
	require.NoError(t, err)
	assert.Equal(t, 3, gp.NumData())

	// Nearly noiseless: the posterior interpolates the training points
	mean, variance, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-3)
		assert.GreaterOrEqual(t, variance.AtVec(i), 0.0)
		assert.Less(t, variance.AtVec(i), 1e-3)
	}

	m, v, err := gp.PredictPoint([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, mean.AtVec(1), m, 1e-12)
	assert.InDelta(t, variance.AtVec(1), v, 1e-12)
}

func TestGPPosteriorSamples(t *testing.T) {
	// Create some test data
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	// Create and fit GP
	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), 1e-6)
	require.NoError(t, gp.Fit(X, y))

	// One row per point, one column per sample
	Xtest := mat.NewDense(2, 1, []float64{1.5, 2.5})
	samples, err := gp.PosteriorSamples(Xtest, 5, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	nPoints, nSamples := samples.Dims()
	assert.Equal(t, 2, nPoints, "number of points should match input dimensions")
	assert.Equal(t, 5, nSamples, "number of samples should match")

	// Check that samples are different
	for i := 1; i < nSamples; i++ {
		assert.NotEqual(t, samples.At(0, 0), samples.At(0, i), "samples should be different")
	}

	// The empirical mean of many draws approaches the posterior mean
	many, err := gp.PosteriorSamples(Xtest, 4000, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	mean, variance, err := gp.Predict(Xtest)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		row := mat.Row(nil, i, many)
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		tol := 4*math.Sqrt(variance.AtVec(i)/4000) + 1e-3
		assert.InDelta(t, mean.AtVec(i), sum/4000, tol)
	}
}

func TestGPNoiseIsBounded(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewVecDense(3, []float64{1, 0, 1})

	// Requests outside the bounds are clamped
	assert.Equal(t, NoiseUpper, NewGP(kernels.NewRBFKernel(1.0, 1.0), 0.1).NoiseVariance())
	assert.Equal(t, NoiseLower, NewGP(kernels.NewRBFKernel(1.0, 1.0), 0).NoiseVariance())

	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), 0.1)
	require.NoError(t, gp.Fit(X, y))

	testX := mat.NewDense(3, 1, []float64{-1, 0, 1})
	means, variances, err := gp.Predict(testX)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), means.AtVec(i), 0.01, "prediction should be close to training data")
		assert.Greater(t, variances.AtVec(i), 0.0, "predictive variance includes the noise")
	}
}

func TestGPErrorHandling(t *testing.T) {
	// Test error cases
	kernel := kernels.NewRBFKernel(1.0, 1.0)
	gp := NewGP(kernel, 1e-6)

	t.Run("empty input", func(t *testing.T) {
		var emptyX *mat.Dense
		var emptyY *mat.VecDense

		err := gp.Fit(emptyX, emptyY)
		require.Error(t, err, "should error on nil input")
		assert.Contains(t, err.Error(), "input matrices must not be nil", "error should indicate nil input")
		assert.True(t, errors.Is(err, optimization.ErrDataContract))

		// Test with zero-length but non-nil inputs
		err = gp.Fit(&mat.Dense{}, &mat.VecDense{})
		require.Error(t, err, "should error on zero-length input")
		assert.Contains(t, err.Error(), "input matrix X must not be empty", "error should indicate empty input")
	})

	t.Run("mismatched dimensions", func(t *testing.T) {
		X := mat.NewDense(3, 1, []float64{1, 2, 3})
		y := mat.NewVecDense(2, []float64{1, 2}) // Wrong length
		err := gp.Fit(X, y)
		require.Error(t, err, "should error on mismatched dimensions")
		assert.Contains(t, err.Error(), "dimension mismatch: X has 3 samples but y has length 2", "error should indicate dimension mismatch")
	})

	t.Run("predict without fit", func(t *testing.T) {
		_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
		require.Error(t, err, "should error when predicting without fitting")
		assert.Contains(t, err.Error(), "model not trained or no training data", "error should indicate model not fitted")
	})

	t.Run("sample without fit", func(t *testing.T) {
		_, err := gp.PosteriorSamples(mat.NewDense(1, 1, []float64{0}), 1, rand.New(rand.NewSource(42)))
		require.Error(t, err, "should error when sampling without fitting")
		assert.Contains(t, err.Error(), "model not trained", "error should indicate model not fitted")
	})

	t.Run("optimize without fit", func(t *testing.T) {
		_, err := gp.OptimizeHyperparameters(1)
		require.Error(t, err)
	})

	t.Run("feature mismatch", func(t *testing.T) {
		require.NoError(t, gp.Fit(mat.NewDense(2, 1, []float64{0, 1}), mat.NewVecDense(2, []float64{0, 1})))
		_, _, err := gp.Predict(mat.NewDense(1, 2, []float64{0, 0}))
		assert.True(t, errors.Is(err, optimization.ErrDataContract))
	})
}

func TestGPSingularMatrix(t *testing.T) {
	// Test handling of singular matrix (duplicate points)
	X := mat.NewDense(3, 1, []float64{1.0, 1.0, 1.0}) // All points the same
	y := mat.NewVecDense(3, []float64{1.0, 1.0, 1.1}) // Slightly different y values

	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), DefaultNoiseVar)

	// This should add jitter and succeed
	require.NoError(t, gp.Fit(X, y))

	// Should be able to make predictions
	_, variances, err := gp.Predict(mat.NewDense(1, 1, []float64{1.0}))
	require.NoError(t, err)
	assert.Greater(t, variances.AtVec(0), 0.0, "should have positive variance")
}

func TestGPFailedFitKeepsPreviousState(t *testing.T) {
	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), 1e-6)
	require.NoError(t, gp.Fit(mat.NewDense(2, 1, []float64{0, 1}), mat.NewVecDense(2, []float64{0, 1})))

	gp.factorize = func(*mat.SymDense) (*mat.Cholesky, error) {
		return nil, optimization.WrapError(optimization.ErrNumerical, "forced")
	}
	err := gp.Fit(mat.NewDense(3, 1, []float64{0, 1, 2}), mat.NewVecDense(3, []float64{0, 1, 2}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrNumerical))
	assert.Equal(t, 2, gp.NumData())

	_, _, err = gp.Predict(mat.NewDense(1, 1, []float64{0.5}))
	assert.NoError(t, err)
}

func TestGPBatchPredict(t *testing.T) {
	// Test batch prediction
	X := mat.NewDense(5, 1, []float64{-2, -1, 0, 1, 2})
	y := mat.NewVecDense(5, []float64{4, 1, 0, 1, 4}) // x^2

	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), 1e-6)
	require.NoError(t, gp.Fit(X, y))

	// Test points
	testX := mat.NewDense(3, 1, []float64{-0.5, 0.5, 1.5})
	means, variances, err := gp.Predict(testX)
	require.NoError(t, err)

	// Check dimensions
	nPoints, _ := testX.Dims()
	assert.Equal(t, nPoints, means.Len(), "means length should match number of test points")
	assert.Equal(t, nPoints, variances.Len(), "variances length should match number of test points")

	// Check predictions are reasonable
	for i := 0; i < nPoints; i++ {
		x := testX.At(i, 0)
		assert.InDelta(t, x*x, means.AtVec(i), 0.5, "prediction should be close to x^2")
		assert.Greater(t, variances.AtVec(i), 0.0, "variance should be positive")
	}
}

func TestLogMarginalLikelihood(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := mat.NewVecDense(2, []float64{1, -1})
	noise := 1e-3

	gp := NewGP(kernels.NewRBFKernel(1.0, 1.0), noise)
	require.NoError(t, gp.Fit(X, y))
	got, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)

	// Closed form for a 2x2 covariance
	a := 1 + noise
	b := math.Exp(-0.5)
	det := a*a - b*b
	quad := (a*1*1 - 2*b*1*(-1) + a*(-1)*(-1)) / det
	want := -0.5*quad - 0.5*math.Log(det) - math.Log(2*math.Pi)
	assert.InDelta(t, want, got, 1e-9)
}

func TestNewSurrogateKernel(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		0.0, 0.5,
		0.2, 0.5,
		0.4, 0.5,
		0.6, 0.5,
	})

	k, err := NewSurrogateKernel("linear+matern32", X)
	require.NoError(t, err)
	sum, ok := k.(*kernels.SumKernel)
	require.True(t, ok)
	require.Len(t, sum.Parts(), 2)

	m, ok := sum.Parts()[1].(*kernels.Matern32Kernel)
	require.True(t, ok)
	assert.Equal(t, maternInitVariance, m.Variance())
	ls := m.LengthScales()
	assert.InDelta(t, math.Sqrt(0.05), ls[0], 1e-12, "population std of 0, .2, .4, .6")
	assert.Equal(t, minLengthScale, ls[1], "constant column is floored")
	assert.Less(t, m.LogPrior(), 0.0)

	for _, name := range []string{"matern32", "matern52", "rbf"} {
		_, err := NewSurrogateKernel(name, X)
		assert.NoError(t, err, name)
	}

	_, err = NewSurrogateKernel("periodic", X)
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))
}

func TestOptimizeHyperparameters(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 12
	X := mat.NewDense(n, 2, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		a, b := rng.Float64(), rng.Float64()
		X.SetRow(i, []float64{a, b})
		y.SetVec(i, math.Sin(6*a)+0.5*b)
	}

	kernel, err := NewSurrogateKernel("", X)
	require.NoError(t, err)
	gp := NewGP(kernel, DefaultNoiseVar, WithRand(rng))
	require.NoError(t, gp.Fit(X, y))

	before, err := gp.negLogPosterior()
	require.NoError(t, err)

	outcome, err := gp.OptimizeHyperparameters(2)
	require.NoError(t, err)
	assert.Equal(t, optimization.FitSuccess, outcome)

	after, err := gp.negLogPosterior()
	require.NoError(t, err)
	assert.LessOrEqual(t, after, before+1e-6)

	assert.GreaterOrEqual(t, gp.NoiseVariance(), NoiseLower)
	assert.LessOrEqual(t, gp.NoiseVariance(), NoiseUpper)
	for _, h := range gp.Hyperparameters() {
		assert.Greater(t, h, 0.0)
	}
}

func TestOptimizeHyperparametersSkipsSingularFit(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 0.3, 0.6, 0.9})
	y := mat.NewVecDense(4, []float64{1, 0, 0.5, 2})

	kernel, err := NewSurrogateKernel("", X)
	require.NoError(t, err)
	gp := NewGP(kernel, DefaultNoiseVar)
	require.NoError(t, gp.Fit(X, y))
	want := gp.Hyperparameters()

	gp.factorize = func(*mat.SymDense) (*mat.Cholesky, error) {
		return nil, optimization.WrapError(optimization.ErrNumerical, "forced")
	}
	outcome, err := gp.OptimizeHyperparameters(3)
	require.NoError(t, err, "numerical failures are reported through the outcome")
	assert.Equal(t, optimization.FitSkippedNumericalInstability, outcome)
	assert.Equal(t, want, gp.Hyperparameters())
}

func TestFantasize(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 0.5, 1})
	y := mat.NewVecDense(3, []float64{0, 1, 0})
	gp := NewGP(kernels.NewRBFKernel(0.3, 1.0), 1e-6)
	require.NoError(t, gp.Fit(X, y))

	_, before, err := gp.PredictPoint([]float64{0.25})
	require.NoError(t, err)

	f, err := gp.Fantasize(mat.NewDense(1, 1, []float64{0.25}), []float64{0.7})
	require.NoError(t, err)
	assert.Equal(t, 4, f.NumData())
	assert.Equal(t, 3, gp.NumData(), "the original model is untouched")

	m, after, err := f.PredictPoint([]float64{0.25})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, m, 1e-3)
	assert.Less(t, after, before)
}

func TestMatrixPoolReshapes(t *testing.T) {
	p := NewMatrixPool()
	a := p.GetSymDense(3)
	a.SetSym(0, 0, 7)
	p.PutSymDense(a)

	b := p.GetSymDense(5)
	assert.Equal(t, 5, b.SymmetricDim())
	assert.Equal(t, 0.0, b.At(0, 0))

	d := p.GetDense(2, 3)
	d.Set(1, 2, 4)
	p.PutDense(d)
	e := p.GetDense(4, 1)
	r, c := e.Dims()
	assert.Equal(t, []int{4, 1}, []int{r, c})
	assert.Equal(t, 0.0, e.At(0, 0))
}
