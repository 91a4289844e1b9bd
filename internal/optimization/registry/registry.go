// Package registry resolves optimizer names to implementations.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/bayesian"
	"github.com/copyleftdev/seqopt/internal/optimization/random"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Optimizer is the ask/tell contract shared by every registered optimizer.
// Implementations are not safe for concurrent use.
type Optimizer interface {
	Config() optimization.Config
	Reset(design, search *space.Space) error
	SetContext(fixed optimization.Sample)
	RandomSample(n int) ([]optimization.Sample, error)
	Suggest(n int) ([]optimization.Sample, error)
	SuggestContext(ctx context.Context, n int) ([]optimization.Sample, error)
	UpdateModel(data optimization.Data) (optimization.FitOutcome, error)
	Observe(samples []optimization.Sample, values []float64) (optimization.FitOutcome, error)
	Best() (optimization.Sample, float64, bool)
	Observations() ([][]float64, []float64)
}

// Constructor builds an optimizer from a configuration.
type Constructor func(cfg optimization.Config, logger *zap.Logger) (Optimizer, error)

var (
	mu           sync.RWMutex
	constructors = map[optimization.Name]Constructor{}
)

func init() {
	Register(optimization.VanillaBO, func(cfg optimization.Config, logger *zap.Logger) (Optimizer, error) {
		return bayesian.NewVanillaBO(cfg, logger)
	})
	Register(optimization.RandomSearch, func(cfg optimization.Config, logger *zap.Logger) (Optimizer, error) {
		return random.New(cfg, logger)
	})
}

// Register adds or replaces an optimizer constructor. Names are matched
// case-insensitively.
func Register(name optimization.Name, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	constructors[optimization.Name(strings.ToUpper(string(name)))] = ctor
}

// Names returns the registered optimizer names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, string(name))
	}
	sort.Strings(out)
	return out
}

// New resolves cfg.Optimizer and builds the optimizer. An unregistered or
// empty name yields an *optimization.UnknownNameError; there is no default.
func New(cfg optimization.Config, logger *zap.Logger) (Optimizer, error) {
	key := optimization.Name(strings.ToUpper(string(cfg.Optimizer)))
	mu.RLock()
	ctor, ok := constructors[key]
	mu.RUnlock()
	if !ok {
		return nil, &optimization.UnknownNameError{Registry: "optimizer", Name: string(cfg.Optimizer)}
	}
	cfg.Optimizer = key
	return ctor(cfg, logger)
}

var (
	_ Optimizer = (*bayesian.VanillaBO)(nil)
	_ Optimizer = (*random.Search)(nil)
)
