package acquisition

import (
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProbabilityOfImprovement scores the probability that a point improves on
// the incumbent by at least xi.
type ProbabilityOfImprovement struct {
	bestObserved float64
	xi           float64
}

// NewProbabilityOfImprovement creates a PI scorer for minimization.
func NewProbabilityOfImprovement(bestObserved, xi float64) *ProbabilityOfImprovement {
	return &ProbabilityOfImprovement{bestObserved: bestObserved, xi: xi}
}

func (pi *ProbabilityOfImprovement) Name() string { return "PI" }

// Compute returns Φ((best - mu - xi) / sigma).
func (pi *ProbabilityOfImprovement) Compute(mu, sigma float64) float64 {
	improvement := pi.bestObserved - mu - pi.xi
	if sigma <= 1e-10 {
		if improvement > 0 {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF(improvement / sigma)
}

func (pi *ProbabilityOfImprovement) UpdateBest(best float64) { pi.bestObserved = best }

// LowerConfidenceBound is the confidence-bound rule for minimization:
// points with a low optimistic bound mu - beta*sigma score high.
type LowerConfidenceBound struct {
	beta float64
}

// NewLowerConfidenceBound creates a confidence-bound scorer.
func NewLowerConfidenceBound(beta float64) *LowerConfidenceBound {
	return &LowerConfidenceBound{beta: beta}
}

func (l *LowerConfidenceBound) Name() string { return "UCB" }

// Compute returns -(mu - beta*sigma).
func (l *LowerConfidenceBound) Compute(mu, sigma float64) float64 {
	return -(mu - l.beta*sigma)
}

// UpdateBest is a no-op: the bound does not depend on the incumbent.
func (l *LowerConfidenceBound) UpdateBest(float64) {}

// ThompsonSample scores a point by a draw from its marginal posterior.
// Scores are random; a fixed source makes a suggestion round reproducible.
type ThompsonSample struct {
	rng *rand.Rand
}

// NewThompsonSample creates a Thompson scorer drawing from rng.
func NewThompsonSample(rng *rand.Rand) *ThompsonSample {
	return &ThompsonSample{rng: rng}
}

func (ts *ThompsonSample) Name() string { return "TS" }

// Compute returns the negated draw mu + sigma*ε.
func (ts *ThompsonSample) Compute(mu, sigma float64) float64 {
	return -(mu + sigma*ts.rng.NormFloat64())
}

// UpdateBest is a no-op for Thompson sampling.
func (ts *ThompsonSample) UpdateBest(float64) {}

// compile-time interface checks
var (
	_ Scorer = (*ExpectedImprovement)(nil)
	_ Scorer = (*ProbabilityOfImprovement)(nil)
	_ Scorer = (*LowerConfidenceBound)(nil)
	_ Scorer = (*ThompsonSample)(nil)
)
