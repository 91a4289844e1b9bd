package benchmark

import (
	"context"
	"sort"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// Suite is an ordered set of problems with unique names.
type Suite struct {
	seed     int64
	remote   bool
	problems []Problem
	byName   map[string]Problem
}

// NewSuite creates an empty suite.
func NewSuite(seed int64) *Suite {
	return &Suite{seed: seed, byName: make(map[string]Problem)}
}

// Seed returns the seed the problems were built with.
func (s *Suite) Seed() int64 { return s.seed }

// Remote reports whether evaluations are proxied to a server.
func (s *Suite) Remote() bool { return s.remote }

// Add appends a problem. Names must be unique.
func (s *Suite) Add(p Problem) error {
	name := p.Info().Name
	if _, dup := s.byName[name]; dup {
		return optimization.ConfigErrorf("duplicate task %q", name).WithComponent("benchmark")
	}
	s.problems = append(s.problems, p)
	s.byName[name] = p
	return nil
}

// Problems returns the problems in insertion order.
func (s *Suite) Problems() []Problem {
	return append([]Problem(nil), s.problems...)
}

// Tasks describes every problem.
func (s *Suite) Tasks() []TaskInfo {
	out := make([]TaskInfo, len(s.problems))
	for i, p := range s.problems {
		out[i] = p.Info()
	}
	return out
}

// Problem returns the named problem.
func (s *Suite) Problem(name string) (Problem, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, &optimization.UnknownNameError{Registry: "task", Name: name}
	}
	return p, nil
}

// Evaluate scores samples on the named problem.
func (s *Suite) Evaluate(ctx context.Context, name string, samples []optimization.Sample) ([]float64, error) {
	p, err := s.Problem(name)
	if err != nil {
		return nil, err
	}
	return p.Evaluate(ctx, samples)
}

// BuildSuite creates one problem per workload of every task. Benchmarks are
// resolved against the synthetic registry unless the task is tabular, in
// which case the table at Path is loaded once and split by workload. In
// remote mode the problems are defined locally but evaluated by the server
// at serverURL.
func BuildSuite(tasks Tasks, seed int64, remote bool, serverURL string) (*Suite, error) {
	var client *Client
	if remote {
		c, err := NewClient(serverURL, nil)
		if err != nil {
			return nil, err
		}
		client = c
	}

	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	suite := NewSuite(seed)
	suite.remote = remote
	for _, name := range names {
		ts := tasks[name]
		if ts.Budget <= 0 {
			return nil, optimization.ConfigErrorf("task %q: budget must be positive", name).WithComponent("benchmark")
		}
		if len(ts.Workloads) == 0 {
			return nil, optimization.ConfigErrorf("task %q: no workloads", name).WithComponent("benchmark")
		}

		var table *Table
		if ts.Tabular {
			if ts.Path == "" {
				return nil, optimization.ConfigErrorf("task %q: tabular benchmark needs a path", name).WithComponent("benchmark")
			}
			tableName, err := paramString(ts.Params, "table", name)
			if err != nil {
				return nil, err
			}
			if table, err = LoadTable(context.Background(), ts.Path, tableName); err != nil {
				return nil, err
			}
		} else if _, err := LookupFunction(name); err != nil {
			return nil, err
		}

		for _, wl := range ts.Workloads {
			var (
				p   Problem
				err error
			)
			if table != nil {
				p, err = NewTabular(name, wl, ts.Budget, table)
			} else {
				p, err = NewSynthetic(name, wl, ts.Budget, seed, ts.Params)
			}
			if err != nil {
				return nil, err
			}
			if client != nil {
				p = &remoteProblem{info: p.Info(), client: client}
			}
			if err := suite.Add(p); err != nil {
				return nil, err
			}
		}
	}
	return suite, nil
}
