package benchmark

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Function is a synthetic test function with its box constraints.
type Function struct {
	Name string
	// Dim is the fixed dimensionality, or 0 when any dim >= MinDim works.
	Dim    int
	MinDim int
	// Bounds returns the box for a given dimensionality.
	Bounds func(dim int) [][2]float64
	Eval   func(x []float64) float64
}

func box(lo, hi float64) func(int) [][2]float64 {
	return func(dim int) [][2]float64 {
		b := make([][2]float64, dim)
		for i := range b {
			b[i] = [2]float64{lo, hi}
		}
		return b
	}
}

var functions = map[string]Function{
	"sphere": {
		Name: "sphere", MinDim: 1, Bounds: box(-5.12, 5.12),
		Eval: func(x []float64) float64 {
			s := 0.0
			for _, v := range x {
				s += v * v
			}
			return s
		},
	},
	"rastrigin": {
		Name: "rastrigin", MinDim: 1, Bounds: box(-5.12, 5.12),
		Eval: func(x []float64) float64 {
			s := 10 * float64(len(x))
			for _, v := range x {
				s += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return s
		},
	},
	"ackley": {
		Name: "ackley", MinDim: 1, Bounds: box(-32.768, 32.768),
		Eval: func(x []float64) float64 {
			n := float64(len(x))
			sq, cs := 0.0, 0.0
			for _, v := range x {
				sq += v * v
				cs += math.Cos(2 * math.Pi * v)
			}
			return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
		},
	},
	"rosenbrock": {
		Name: "rosenbrock", MinDim: 2, Bounds: box(-5, 10),
		Eval: func(x []float64) float64 {
			s := 0.0
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				s += 100*a*a + b*b
			}
			return s
		},
	},
	"branin": {
		Name: "branin", Dim: 2,
		Bounds: func(int) [][2]float64 { return [][2]float64{{-5, 10}, {0, 15}} },
		Eval: func(x []float64) float64 {
			a := x[1] - 5.1/(4*math.Pi*math.Pi)*x[0]*x[0] + 5/math.Pi*x[0] - 6
			return a*a + 10*(1-1/(8*math.Pi))*math.Cos(x[0]) + 10
		},
	},
	"eggholder": {
		Name: "eggholder", Dim: 2, Bounds: box(-512, 512),
		Eval: func(x []float64) float64 {
			a := x[1] + 47
			return -a*math.Sin(math.Sqrt(math.Abs(x[0]/2+a))) - x[0]*math.Sin(math.Sqrt(math.Abs(x[0]-a)))
		},
	},
}

// Functions returns the registered synthetic function names in sorted order.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupFunction returns the named synthetic function.
func LookupFunction(name string) (Function, error) {
	f, ok := functions[name]
	if !ok {
		return Function{}, &optimization.UnknownNameError{Registry: "benchmark", Name: name}
	}
	return f, nil
}

// Synthetic is a shifted variant of a test function. Workload 0 is the
// function itself; other workloads move the optimum by up to a tenth of
// each side of the box, deterministically for a given seed.
type Synthetic struct {
	info  TaskInfo
	fn    Function
	shift []float64
}

// NewSynthetic builds the problem for one workload. Params: "dim".
func NewSynthetic(benchmark string, workload, budget int, seed int64, params map[string]any) (*Synthetic, error) {
	fn, err := LookupFunction(benchmark)
	if err != nil {
		return nil, err
	}
	def := fn.Dim
	if def == 0 {
		def = 2
	}
	dim, err := paramInt(params, "dim", def)
	if err != nil {
		return nil, err
	}
	if fn.Dim != 0 && dim != fn.Dim {
		return nil, optimization.ConfigErrorf("%s is defined for dim %d, got %d", benchmark, fn.Dim, dim).WithComponent("benchmark")
	}
	if dim < fn.MinDim || dim < 1 {
		return nil, optimization.ConfigErrorf("%s needs dim >= %d, got %d", benchmark, max(fn.MinDim, 1), dim).WithComponent("benchmark")
	}

	bounds := fn.Bounds(dim)
	vars := make([]space.Variable, dim)
	shift := make([]float64, dim)
	rng := rand.New(rand.NewSource(seed*7919 + int64(workload)))
	for i, b := range bounds {
		vars[i] = space.Variable{Name: fmt.Sprintf("x%d", i), Type: space.Continuous, Domain: []float64{b[0], b[1]}}
		if workload != 0 {
			shift[i] = (2*rng.Float64() - 1) * 0.1 * (b[1] - b[0])
		}
	}
	sp, err := space.New(vars...)
	if err != nil {
		return nil, err
	}

	return &Synthetic{
		info: TaskInfo{
			Name:      fmt.Sprintf("%s_%d", benchmark, workload),
			Benchmark: benchmark,
			Workload:  workload,
			Budget:    budget,
			Space:     sp,
		},
		fn:    fn,
		shift: shift,
	}, nil
}

// Info describes the problem.
func (s *Synthetic) Info() TaskInfo { return s.info }

// Shift returns the offset applied to the inputs.
func (s *Synthetic) Shift() []float64 { return append([]float64(nil), s.shift...) }

// Evaluate computes f(x - shift) for every sample.
func (s *Synthetic) Evaluate(ctx context.Context, samples []optimization.Sample) ([]float64, error) {
	return evaluateAll(ctx, s.info.Space, samples, func(x []float64) (float64, error) {
		for i := range x {
			x[i] -= s.shift[i]
		}
		return s.fn.Eval(x), nil
	})
}
