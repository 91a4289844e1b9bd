package benchmark

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

func TestSyntheticKnownOptima(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		at     optimization.Sample
		want   float64
		tol    float64
	}{
		{"sphere", map[string]any{"dim": 3}, optimization.Sample{"x0": 0.0, "x1": 0.0, "x2": 0.0}, 0, 1e-12},
		{"rastrigin", nil, optimization.Sample{"x0": 0.0, "x1": 0.0}, 0, 1e-12},
		{"ackley", nil, optimization.Sample{"x0": 0.0, "x1": 0.0}, 0, 1e-12},
		{"rosenbrock", map[string]any{"dim": 4.0}, optimization.Sample{"x0": 1.0, "x1": 1.0, "x2": 1.0, "x3": 1.0}, 0, 1e-12},
		{"branin", nil, optimization.Sample{"x0": math.Pi, "x1": 2.275}, 0.397887, 1e-5},
		{"eggholder", nil, optimization.Sample{"x0": 512.0, "x1": 404.2319}, -959.6407, 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSynthetic(tt.name, 0, 10, 1, tt.params)
			require.NoError(t, err)
			info := p.Info()
			assert.Equal(t, tt.name+"_0", info.Name)
			assert.Equal(t, 10, info.Budget)

			got, err := p.Evaluate(context.Background(), []optimization.Sample{tt.at})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got[0], tt.tol)
		})
	}
}

func TestSyntheticWorkloadShift(t *testing.T) {
	base, err := NewSynthetic("sphere", 0, 10, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, base.Shift())

	a, err := NewSynthetic("sphere", 2, 10, 3, nil)
	require.NoError(t, err)
	b, err := NewSynthetic("sphere", 2, 10, 3, nil)
	require.NoError(t, err)
	c, err := NewSynthetic("sphere", 2, 10, 4, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Shift(), b.Shift(), "same seed and workload give the same problem")
	assert.NotEqual(t, a.Shift(), c.Shift())
	for _, s := range a.Shift() {
		assert.LessOrEqual(t, math.Abs(s), 0.1*10.24)
	}

	// The optimum moves with the shift.
	shift := a.Shift()
	got, err := a.Evaluate(context.Background(), []optimization.Sample{{"x0": shift[0], "x1": shift[1]}})
	require.NoError(t, err)
	assert.InDelta(t, 0, got[0], 1e-12)
}

func TestSyntheticErrors(t *testing.T) {
	_, err := NewSynthetic("hartmann", 0, 10, 1, nil)
	var unknown *optimization.UnknownNameError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "benchmark", unknown.Registry)

	_, err = NewSynthetic("branin", 0, 10, 1, map[string]any{"dim": 3})
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))

	_, err = NewSynthetic("rosenbrock", 0, 10, 1, map[string]any{"dim": 1})
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))

	_, err = NewSynthetic("sphere", 0, 10, 1, map[string]any{"dim": "two"})
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))

	p, err := NewSynthetic("sphere", 0, 10, 1, nil)
	require.NoError(t, err)
	_, err = p.Evaluate(context.Background(), []optimization.Sample{{"x0": 100.0, "x1": 0.0}})
	assert.True(t, errors.Is(err, optimization.ErrDataContract))
	_, err = p.Evaluate(context.Background(), []optimization.Sample{{"x0": 1.0}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Evaluate(ctx, []optimization.Sample{{"x0": 1.0, "x1": 0.0}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticBatchOrder(t *testing.T) {
	p, err := NewSynthetic("sphere", 0, 10, 1, map[string]any{"dim": 1})
	require.NoError(t, err)

	samples := make([]optimization.Sample, 64)
	for i := range samples {
		samples[i] = optimization.Sample{"x0": float64(i) / 16}
	}
	got, err := p.Evaluate(context.Background(), samples)
	require.NoError(t, err)
	for i, v := range got {
		x := float64(i) / 16
		assert.InDelta(t, x*x, v, 1e-12)
	}
}

func TestFunctions(t *testing.T) {
	assert.Equal(t, []string{"ackley", "branin", "eggholder", "rastrigin", "rosenbrock", "sphere"}, Functions())
}
