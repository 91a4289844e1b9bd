package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
// By default, it assumes we're minimizing (lower values are better)
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     true, // Default to minimization
	}
}

// Compute computes the Expected Improvement at a point with
// posterior mean mu and standard deviation sigma. The result is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	var improvement float64
	if ei.minimize {
		improvement = ei.bestObserved - mu - ei.xi
	} else {
		improvement = mu - ei.bestObserved - ei.xi
	}

	// Certain prediction: EI degenerates to the plain improvement.
	if sigma <= 1e-10 {
		return math.Max(improvement, 0)
	}

	// EI = improvement * Φ(z) + sigma * φ(z)
	z := improvement / sigma
	eiValue := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	return math.Max(eiValue, 0)
}

// Gradient computes the gradient of the Expected Improvement
// dmu: derivative of mu with respect to the parameter
// dsigma: derivative of sigma with respect to the parameter
func (ei *ExpectedImprovement) Gradient(mu, dmu float64, sigma, dsigma float64) float64 {
	if sigma <= 1e-10 {
		// When sigma is very small, EI is linear in mu
		if ei.minimize {
			return -dmu // EI = best_observed - mu - xi
		}
		return dmu // EI = mu - best_observed - xi
	}

	var improvement float64
	if ei.minimize {
		improvement = ei.bestObserved - mu - ei.xi
	} else {
		improvement = mu - ei.bestObserved - ei.xi
	}

	z := improvement / sigma
	stdNormal := distuv.UnitNormal
	pdf := stdNormal.Prob(z)
	cdf := stdNormal.CDF(z)

	// The gradient of EI with respect to mu is -cdf for minimization, +cdf for maximization
	// The gradient of EI with respect to sigma is always pdf
	// Total gradient is (dEI/dmu)*dmu + (dEI/dsigma)*dsigma
	if ei.minimize {
		return -cdf*dmu + pdf*dsigma
	}
	return cdf*dmu + pdf*dsigma
}

// Name implements Scorer.
func (ei *ExpectedImprovement) Name() string { return "EI" }

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}
