// Package optimtest provides objectives, spaces and assertions shared by the
// optimizer tests.
package optimtest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Sphere is a simple quadratic objective centred at c in every dimension.
func Sphere(c float64) func(x []float64) float64 {
	return func(x []float64) float64 {
		sum := 0.0
		for _, v := range x {
			sum += (v - c) * (v - c)
		}
		return sum
	}
}

// NoisySphere adds uniform noise of width noiseScale to Sphere.
func NoisySphere(c, noiseScale float64, rng *rand.Rand) func(x []float64) float64 {
	f := Sphere(c)
	return func(x []float64) float64 {
		return f(x) + noiseScale*(rng.Float64()-0.5)
	}
}

// UnitSpace returns a space of continuous [0, 1] variables with the given names.
func UnitSpace(t testing.TB, names ...string) *space.Space {
	t.Helper()
	vars := make([]space.Variable, len(names))
	for i, n := range names {
		vars[i] = space.Variable{Name: n, Type: space.Continuous, Domain: []float64{0, 1}}
	}
	s, err := space.New(vars...)
	require.NoError(t, err)
	return s
}

// Vector reads the named continuous variables of smp in order.
func Vector(t testing.TB, smp optimization.Sample, names ...string) []float64 {
	t.Helper()
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := smp[n].(float64)
		require.True(t, ok, "variable %q is %T, want float64", n, smp[n])
		out[i] = v
	}
	return out
}

// RandomDataset returns rows uniform points in [0, 1]^cols with Sphere(0.5)
// targets.
func RandomDataset(rng *rand.Rand, rows, cols int) *optimization.Dataset {
	f := Sphere(0.5)
	d := &optimization.Dataset{X: make([][]float64, rows), Y: make([]float64, rows)}
	for i := range d.X {
		d.X[i] = make([]float64, cols)
		for j := range d.X[i] {
			d.X[i][j] = rng.Float64()
		}
		d.Y[i] = f(d.X[i])
	}
	return d
}

// AssertFloat64sInDelta checks that two slices are approximately equal.
func AssertFloat64sInDelta(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertMatEqual checks that two matrices have the same shape and are
// approximately equal.
func AssertMatEqual(t testing.TB, want, got mat.Matrix, tol float64) {
	t.Helper()
	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}
	if !mat.EqualApprox(got, want, tol) {
		t.Fatalf("matrices differ by more than %v:\ngot  %v\nwant %v", tol, mat.Formatted(got), mat.Formatted(want))
	}
}
