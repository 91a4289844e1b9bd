package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// Prior is implemented by kernels that place a prior on their
// hyperparameters. LogPrior is added to the log marginal likelihood during
// hyperparameter fitting.
type Prior interface {
	LogPrior() float64
}

// LogPrior returns k's log prior density, or zero when k carries no prior.
func LogPrior(k Kernel) float64 {
	if p, ok := k.(Prior); ok {
		return p.LogPrior()
	}
	return 0
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return &RBFKernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r2 := sumSq / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

// Hyperparameters returns [lengthScale, signalVar]
func (k *RBFKernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *RBFKernel) SetHyperparameters(params []float64) error {
	if err := checkPositive(params, 2); err != nil {
		return err
	}
	k.lengthScale = params[0]
	k.signalVar = params[1]
	return nil
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given parameters
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return &Matern52Kernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r := math.Sqrt(sumSq) / k.lengthScale
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	expTerm := math.Exp(-math.Sqrt(5) * r)
	return k.signalVar * polyTerm * expTerm
}

// Hyperparameters returns [lengthScale, signalVar]
func (k *Matern52Kernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *Matern52Kernel) SetHyperparameters(params []float64) error {
	if err := checkPositive(params, 2); err != nil {
		return err
	}
	k.lengthScale = params[0]
	k.signalVar = params[1]
	return nil
}

// Matern32Kernel is the Matérn 3/2 kernel with one length scale per input
// dimension (automatic relevance determination).
type Matern32Kernel struct {
	variance     float64
	lengthScales []float64
	// variancePrior is optional; nil means an improper flat prior.
	variancePrior *distuv.Gamma
}

// NewMatern32Kernel creates an ARD Matérn 3/2 kernel.
func NewMatern32Kernel(variance float64, lengthScales []float64) *Matern32Kernel {
	if variance <= 0 {
		panic(fmt.Sprintf("variance must be positive, got %v", variance))
	}
	if len(lengthScales) == 0 {
		panic("at least one length scale is required")
	}
	for _, l := range lengthScales {
		if l <= 0 {
			panic(fmt.Sprintf("length scales must be positive, got %v", lengthScales))
		}
	}
	return &Matern32Kernel{
		variance:     variance,
		lengthScales: append([]float64(nil), lengthScales...),
	}
}

// SetVariancePrior places a Gamma(shape, rate) prior on the signal variance.
func (k *Matern32Kernel) SetVariancePrior(shape, rate float64) {
	k.variancePrior = &distuv.Gamma{Alpha: shape, Beta: rate}
}

// Eval computes the Matérn 3/2 kernel value between x1 and x2
func (k *Matern32Kernel) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := (x1[i] - x2[i]) / k.lengthScales[i]
		sumSq += diff * diff
	}
	r := math.Sqrt(3 * sumSq)
	return k.variance * (1 + r) * math.Exp(-r)
}

// Variance returns the signal variance.
func (k *Matern32Kernel) Variance() float64 { return k.variance }

// LengthScales returns a copy of the per-dimension length scales.
func (k *Matern32Kernel) LengthScales() []float64 {
	return append([]float64(nil), k.lengthScales...)
}

// Hyperparameters returns [variance, lengthScale_1, ..., lengthScale_D]
func (k *Matern32Kernel) Hyperparameters() []float64 {
	return append([]float64{k.variance}, k.lengthScales...)
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *Matern32Kernel) SetHyperparameters(params []float64) error {
	if err := checkPositive(params, 1+len(k.lengthScales)); err != nil {
		return err
	}
	k.variance = params[0]
	copy(k.lengthScales, params[1:])
	return nil
}

// LogPrior returns the log density of the variance prior expressed over
// log(variance), which is the coordinate the hyperparameter search moves in.
func (k *Matern32Kernel) LogPrior() float64 {
	if k.variancePrior == nil {
		return 0
	}
	return k.variancePrior.LogProb(k.variance) + math.Log(k.variance)
}

// LinearKernel is the isotropic dot-product kernel variance * <x1, x2>.
type LinearKernel struct {
	variance float64
}

// NewLinearKernel creates a linear kernel.
func NewLinearKernel(variance float64) *LinearKernel {
	if variance <= 0 {
		panic(fmt.Sprintf("variance must be positive, got %v", variance))
	}
	return &LinearKernel{variance: variance}
}

// Eval computes variance * <x1, x2>
func (k *LinearKernel) Eval(x1, x2 []float64) float64 {
	dot := 0.0
	for i := range x1 {
		dot += x1[i] * x2[i]
	}
	return k.variance * dot
}

// Hyperparameters returns [variance]
func (k *LinearKernel) Hyperparameters() []float64 {
	return []float64{k.variance}
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *LinearKernel) SetHyperparameters(params []float64) error {
	if err := checkPositive(params, 1); err != nil {
		return err
	}
	k.variance = params[0]
	return nil
}

// SumKernel adds the values of its parts. Its hyperparameter vector is the
// concatenation of the parts' vectors in order.
type SumKernel struct {
	parts []Kernel
}

// NewSumKernel creates k_1 + k_2 + ... + k_n.
func NewSumKernel(parts ...Kernel) *SumKernel {
	if len(parts) == 0 {
		panic("sum kernel needs at least one part")
	}
	return &SumKernel{parts: parts}
}

// Parts returns the summed kernels.
func (k *SumKernel) Parts() []Kernel { return k.parts }

// Eval sums the part kernels
func (k *SumKernel) Eval(x1, x2 []float64) float64 {
	v := 0.0
	for _, p := range k.parts {
		v += p.Eval(x1, x2)
	}
	return v
}

// Hyperparameters concatenates the parts' hyperparameters
func (k *SumKernel) Hyperparameters() []float64 {
	var out []float64
	for _, p := range k.parts {
		out = append(out, p.Hyperparameters()...)
	}
	return out
}

// SetHyperparameters splits params across the parts. Either all parts are
// updated or none is.
func (k *SumKernel) SetHyperparameters(params []float64) error {
	total := 0
	for _, p := range k.parts {
		total += len(p.Hyperparameters())
	}
	if err := checkPositive(params, total); err != nil {
		return err
	}
	off := 0
	for _, p := range k.parts {
		n := len(p.Hyperparameters())
		if err := p.SetHyperparameters(params[off : off+n]); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// LogPrior sums the parts' priors.
func (k *SumKernel) LogPrior() float64 {
	lp := 0.0
	for _, p := range k.parts {
		lp += LogPrior(p)
	}
	return lp
}

func checkPositive(params []float64, want int) error {
	if len(params) != want {
		return fmt.Errorf("expected %d hyperparameters, got %d", want, len(params))
	}
	for _, p := range params {
		if !(p > 0) || math.IsInf(p, 0) {
			return fmt.Errorf("hyperparameters must be positive, got %v", params)
		}
	}
	return nil
}
