package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

func TestNormalizersInvert(t *testing.T) {
	y := []float64{3, -1, 4, 1, 5, 9, 2, 6}
	for _, name := range []string{"none", "standard", "minmax"} {
		t.Run(name, func(t *testing.T) {
			n, err := New(name)
			require.NoError(t, err)

			z := FitTransform(n, y)
			back := n.Inverse(z)
			for i := range y {
				assert.InDelta(t, y[i], back[i], 1e-12)
			}
		})
	}
}

func TestStandardMoments(t *testing.T) {
	n, err := New("standard")
	require.NoError(t, err)
	z := FitTransform(n, []float64{1, 2, 3, 4, 5})
	assert.InDelta(t, 0, stat.Mean(z, nil), 1e-12)
	assert.InDelta(t, 1, stat.PopStdDev(z, nil), 1e-12)
	assert.InDelta(t, 2.0*4.0, n.InverseVariance(4.0), 1e-12)
}

func TestMinMaxRange(t *testing.T) {
	n, err := New("minmax")
	require.NoError(t, err)
	z := FitTransform(n, []float64{10, 20, 15})
	assert.Equal(t, []float64{0, 1, 0.5}, z)
}

func TestConstantOutputs(t *testing.T) {
	for _, name := range []string{"standard", "minmax"} {
		n, err := New(name)
		require.NoError(t, err)
		z := FitTransform(n, []float64{7, 7, 7})
		for _, v := range z {
			assert.False(t, v != v, "NaN produced by %s", name)
		}
	}
}

func TestUnknownNormalizer(t *testing.T) {
	_, err := New("robust")
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))
}
