package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBFKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       float64
		sv       float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       1.0,
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       1.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "with different length scale",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 2.0},
			ls:       2.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (2^2 + 2^2) / 2^2)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel := NewRBFKernel(tt.ls, tt.sv)
			result := kernel.Eval(tt.x1, tt.x2)

			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}

			// Test symmetry
			result2 := kernel.Eval(tt.x2, tt.x1)
			if math.Abs(result-result2) > 1e-10 {
				t.Error("kernel is not symmetric")
			}
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	tests := []struct {
		name           string
		lengthScale    float64
		signalVariance float64
		x1, x2         []float64
		expected       float64
	}{
		{
			name:           "same point",
			lengthScale:    1.0,
			signalVariance: 1.0,
			x1:             []float64{1.0, 2.0},
			x2:             []float64{1.0, 2.0},
			expected:       1.0,
		},
		{
			name:           "different points",
			lengthScale:    1.0,
			signalVariance: 1.0,
			x1:             []float64{0.0, 0.0},
			x2:             []float64{1.0, 1.0},
			// Expected value calculated manually
			expected: (1.0 + math.Sqrt(5)*math.Sqrt(2) + (5.0/3.0)*2) * math.Exp(-math.Sqrt(5)*math.Sqrt(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel := NewMatern52Kernel(tt.lengthScale, tt.signalVariance)
			result := kernel.Eval(tt.x1, tt.x2)

			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}

			// Test symmetry
			result2 := kernel.Eval(tt.x2, tt.x1)
			if math.Abs(result-result2) > 1e-10 {
				t.Error("kernel is not symmetric")
			}
		})
	}
}

func TestKernelHyperparameters(t *testing.T) {
	tests := []struct {
		name     string
		kernel   Kernel
		params   []float64
		wantErr  bool
		errorMsg string
	}{
		{
			name:     "RBF valid params",
			kernel:   NewRBFKernel(1.0, 1.0),
			params:   []float64{2.0, 3.0},
			wantErr:  false,
			errorMsg: "",
		},
		{
			name:     "RBF invalid params count",
			kernel:   NewRBFKernel(1.0, 1.0),
			params:   []float64{1.0},
			wantErr:  true,
			errorMsg: "expected 2 hyperparameters, got 1",
		},
		{
			name:     "RBF invalid param value",
			kernel:   NewRBFKernel(1.0, 1.0),
			params:   []float64{-1.0, 1.0},
			wantErr:  true,
			errorMsg: "hyperparameters must be positive, got [-1 1]",
		},
		{
			name:     "Matern52 valid params",
			kernel:   NewMatern52Kernel(1.0, 1.0),
			params:   []float64{2.0, 3.0},
			wantErr:  false,
			errorMsg: "",
		},
		{
			name:     "Matern32 ARD valid params",
			kernel:   NewMatern32Kernel(0.5, []float64{1, 1, 1}),
			params:   []float64{0.7, 0.1, 0.2, 0.3},
			wantErr:  false,
			errorMsg: "",
		},
		{
			name:     "Matern32 ARD wrong count",
			kernel:   NewMatern32Kernel(0.5, []float64{1, 1}),
			params:   []float64{0.7, 0.1},
			wantErr:  true,
			errorMsg: "expected 3 hyperparameters, got 2",
		},
		{
			name:     "Linear zero variance",
			kernel:   NewLinearKernel(1.0),
			params:   []float64{0},
			wantErr:  true,
			errorMsg: "hyperparameters must be positive, got [0]",
		},
		{
			name:     "Sum valid params",
			kernel:   NewSumKernel(NewLinearKernel(1.0), NewMatern32Kernel(0.5, []float64{1, 1})),
			params:   []float64{2.0, 0.6, 0.3, 0.4},
			wantErr:  false,
			errorMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kernel.SetHyperparameters(tt.params)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("expected error message '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				// Verify hyperparameters were set correctly
				params := tt.kernel.Hyperparameters()
				if len(params) != len(tt.params) {
					t.Fatalf("expected %d parameters, got %d", len(tt.params), len(params))
				}
				for i, p := range params {
					if p != tt.params[i] {
						t.Errorf("parameter %d: expected %v, got %v", i, tt.params[i], p)
					}
				}
			}
		})
	}
}

func TestMatern32Kernel(t *testing.T) {
	k := NewMatern32Kernel(2.0, []float64{1.0, 0.5})

	assert.InDelta(t, 2.0, k.Eval([]float64{0.3, 0.3}, []float64{0.3, 0.3}), 1e-12)

	// r = sqrt(3 * ((1/1)^2 + (1/0.5)^2)) = sqrt(15)
	r := math.Sqrt(15)
	want := 2.0 * (1 + r) * math.Exp(-r)
	got := k.Eval([]float64{0, 0}, []float64{1, 1})
	assert.InDelta(t, want, got, 1e-12)
	assert.InDelta(t, got, k.Eval([]float64{1, 1}, []float64{0, 0}), 1e-12, "kernel is not symmetric")

	// A long length scale makes the kernel ignore that dimension.
	wide := NewMatern32Kernel(1.0, []float64{1.0, 1e9})
	assert.InDelta(t, wide.Eval([]float64{0, 0}, []float64{1, 0}), wide.Eval([]float64{0, 0}, []float64{1, 5}), 1e-9)
}

func TestLinearKernel(t *testing.T) {
	k := NewLinearKernel(0.5)
	assert.InDelta(t, 0.5*(1*3+2*4), k.Eval([]float64{1, 2}, []float64{3, 4}), 1e-12)
	assert.Equal(t, 0.0, k.Eval([]float64{0, 0}, []float64{3, 4}))
}

func TestSumKernel(t *testing.T) {
	lin := NewLinearKernel(1.0)
	mat := NewMatern32Kernel(0.5, []float64{1.0})
	sum := NewSumKernel(lin, mat)

	x1, x2 := []float64{0.2}, []float64{0.7}
	assert.InDelta(t, lin.Eval(x1, x2)+mat.Eval(x1, x2), sum.Eval(x1, x2), 1e-12)
	assert.Equal(t, []float64{1.0, 0.5, 1.0}, sum.Hyperparameters())

	require.NoError(t, sum.SetHyperparameters([]float64{3, 4, 5}))
	assert.Equal(t, []float64{3}, lin.Hyperparameters())
	assert.Equal(t, []float64{4, 5}, mat.Hyperparameters())

	require.Error(t, sum.SetHyperparameters([]float64{3, -4, 5}))
	assert.Equal(t, []float64{3, 4, 5}, sum.Hyperparameters(), "failed update must leave parts untouched")
}

func TestGammaVariancePrior(t *testing.T) {
	k := NewMatern32Kernel(0.5, []float64{1})
	assert.Equal(t, 0.0, LogPrior(k), "no prior configured")

	k.SetVariancePrior(0.5, 1)
	// Gamma(0.5, 1) over log(v): 0.5*log(v) - v - lgamma(0.5)
	lg, _ := math.Lgamma(0.5)
	want := 0.5*math.Log(0.5) - 0.5 - lg
	assert.InDelta(t, want, k.LogPrior(), 1e-9)

	sum := NewSumKernel(NewLinearKernel(1), k)
	assert.InDelta(t, want, LogPrior(sum), 1e-9)
	assert.Equal(t, 0.0, LogPrior(NewRBFKernel(1, 1)))
}
