// Package acquisition scores candidate points from a surrogate posterior and
// searches the model space for the best-scoring one.
package acquisition

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// Model is the surrogate view an acquisition function needs. Values are on
// the model's (normalized) output scale.
type Model interface {
	// PredictPoint returns the posterior mean and variance at x.
	PredictPoint(x []float64) (mean, variance float64, err error)
	// FMin returns the incumbent: the lowest posterior mean over the
	// observed inputs.
	FMin() (float64, error)
}

// Scorer turns a posterior mean and standard deviation into a score.
// Higher scores are better candidates.
type Scorer interface {
	Name() string
	Compute(mu, sigma float64) float64
	UpdateBest(best float64)
}

// Function scores model-space points against a bound surrogate.
type Function interface {
	Name() string
	// Prepare refreshes the incumbent from the model. Call it once per
	// suggestion round before Evaluate.
	Prepare() error
	// Evaluate returns the acquisition value at x; higher is better.
	Evaluate(x []float64) (float64, error)
}

// Params carries the tunables of every registered function.
type Params struct {
	// Xi is the improvement margin for EI and PI.
	Xi float64
	// Beta weights the standard deviation in UCB.
	Beta float64
	// Rand drives Thompson sampling.
	Rand *rand.Rand
}

var registry = map[string]func(Params) Scorer{
	"EI":  func(p Params) Scorer { return NewExpectedImprovement(math.Inf(1), p.Xi) },
	"PI":  func(p Params) Scorer { return NewProbabilityOfImprovement(math.Inf(1), p.Xi) },
	"UCB": func(p Params) Scorer { return NewLowerConfidenceBound(p.Beta) },
	"LCB": func(p Params) Scorer { return NewLowerConfidenceBound(p.Beta) },
	"TS": func(p Params) Scorer {
		rng := p.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		return NewThompsonSample(rng)
	},
}

// Names lists the registered acquisition functions.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New resolves name (case-insensitive) and binds the function to model. An
// unregistered name yields *optimization.UnknownNameError.
func New(name string, model Model, p Params) (Function, error) {
	ctor, ok := registry[strings.ToUpper(name)]
	if !ok {
		return nil, &optimization.UnknownNameError{Registry: "acquisition function", Name: name}
	}
	return &bound{model: model, scorer: ctor(p)}, nil
}

// bound applies a Scorer to the posterior of a Model.
type bound struct {
	model  Model
	scorer Scorer
}

func (b *bound) Name() string { return b.scorer.Name() }

func (b *bound) Prepare() error {
	fmin, err := b.model.FMin()
	if err != nil {
		return err
	}
	b.scorer.UpdateBest(fmin)
	return nil
}

func (b *bound) Evaluate(x []float64) (float64, error) {
	mu, variance, err := b.model.PredictPoint(x)
	if err != nil {
		return 0, err
	}
	return b.scorer.Compute(mu, math.Sqrt(math.Max(variance, 0))), nil
}
