// Package benchmark provides the objective functions an optimizer is tested
// against: synthetic functions, lookup tables and proxies to a remote
// evaluation service, grouped into suites.
package benchmark

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// TaskInfo describes one problem of a suite.
type TaskInfo struct {
	// Name is unique within a suite: "<benchmark>_<workload>".
	Name      string       `json:"name"`
	Benchmark string       `json:"benchmark"`
	Workload  int          `json:"workload"`
	Budget    int          `json:"budget"`
	Space     *space.Space `json:"space"`
}

// Problem is a black-box objective to be minimized.
type Problem interface {
	Info() TaskInfo
	// Evaluate returns one objective value per sample. Samples must lie in
	// the problem's space.
	Evaluate(ctx context.Context, samples []optimization.Sample) ([]float64, error)
}

// TaskSpec configures one benchmark of a suite. Every workload becomes its
// own problem.
type TaskSpec struct {
	Budget    int            `yaml:"budget" json:"budget" validate:"gt=0"`
	Workloads []int          `yaml:"workloads" json:"workloads" validate:"min=1"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	// Tabular selects a lookup-table benchmark read from Path.
	Tabular bool   `yaml:"tabular,omitempty" json:"tabular,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Tabular true"`
}

// Tasks maps benchmark names to their settings.
type Tasks map[string]TaskSpec

// evaluateAll scores samples concurrently, bounded by the number of CPUs.
// The first error cancels the remaining evaluations.
func evaluateAll(ctx context.Context, sp *space.Space, samples []optimization.Sample, f func(x []float64) (float64, error)) ([]float64, error) {
	out := make([]float64, len(samples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, smp := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !sp.Contains(smp) {
				return optimization.DataContractErrorf("sample %d %v is outside the search space", i, smp).WithComponent("benchmark")
			}
			x, err := sp.Pack(smp)
			if err != nil {
				return err
			}
			v, err := f(x)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// paramInt reads an integer parameter decoded from YAML or JSON.
func paramInt(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, optimization.ConfigErrorf("parameter %q must be an integer, got %v", key, raw).WithComponent("benchmark")
}

// paramString reads a string parameter.
func paramString(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", optimization.ConfigErrorf("parameter %q must be a string, got %v", key, raw).WithComponent("benchmark")
	}
	return s, nil
}
