package optimization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Name identifies an optimizer implementation in the registry.
type Name string

const (
	// VanillaBO is Gaussian Process Bayesian optimization.
	VanillaBO Name = "BO"
	// RandomSearch samples the search space uniformly every round.
	RandomSearch Name = "RS"
)

// Init methods for the initial design.
const (
	InitRandom = "random"
	InitLHS    = "lhs"
)

// Sample maps variable names to values. Continuous variables hold float64,
// discrete variables hold int and categorical variables hold the category
// label as a string.
type Sample map[string]any

// Clone returns a shallow copy of the sample.
func (s Sample) Clone() Sample {
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String renders the sample with keys in sorted order.
func (s Sample) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, s[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Dataset holds parallel observation arrays: row i of X produced Y[i].
type Dataset struct {
	X [][]float64
	Y []float64
}

// Rows returns the number of observations, or an error if X and Y disagree.
func (d *Dataset) Rows() (int, error) {
	if d == nil {
		return 0, DataContractErrorf("dataset is nil")
	}
	if len(d.X) != len(d.Y) {
		return 0, DataContractErrorf("X has %d rows but Y has %d", len(d.X), len(d.Y))
	}
	return len(d.X), nil
}

// Data is the only shape accepted by an optimizer's UpdateModel.
type Data struct {
	Target *Dataset
}

// Config lists every option recognised by the optimizer factory.
// WithDefaults fills unset options: empty strings, zero Restarts and nil
// pointers. The pointer options treat an explicit zero as a value.
type Config struct {
	// Optimizer selects the registry entry.
	Optimizer Name `yaml:"optimizer" json:"optimizer" validate:"required"`
	// InitMethod is "random" or "lhs".
	InitMethod string `yaml:"init_method" json:"init_method" validate:"omitempty,oneof=random lhs"`
	// InitNumber is the number of observations collected before the surrogate is used.
	InitNumber *int `yaml:"init_number" json:"init_number,omitempty" validate:"omitempty,gte=0,lte=100000"`
	// Acquisition is the acquisition function name (EI, PI, UCB, TS).
	Acquisition string `yaml:"acf" json:"acf"`
	// Normalize is the output normalizer (none, standard, minmax).
	Normalize string `yaml:"normalize" json:"normalize" validate:"omitempty,oneof=none standard minmax"`
	// Kernel is the surrogate covariance (linear+matern32, matern32, matern52, rbf).
	Kernel string `yaml:"kernel" json:"kernel" validate:"omitempty,oneof=linear+matern32 matern32 matern52 rbf"`
	// Restarts is the number of hyperparameter optimization restarts per fit.
	Restarts int `yaml:"restarts" json:"restarts" validate:"gte=0,lte=100"`
	// Xi is the improvement margin used by EI and PI.
	Xi *float64 `yaml:"xi" json:"xi,omitempty" validate:"omitempty,gte=0"`
	// Beta is the exploration weight used by UCB.
	Beta *float64 `yaml:"beta" json:"beta,omitempty" validate:"omitempty,gte=0"`
	// Seed makes sampling reproducible; zero seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`
	// Verbose enables debug logging of the fit and acquisition loop.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Default option values.
const (
	DefaultInitNumber  = 10
	DefaultAcquisition = "EI"
	DefaultNormalize   = "none"
	DefaultKernel      = "linear+matern32"
	DefaultRestarts    = 1
	DefaultXi          = 0.01
	DefaultBeta        = 2.0
)

var configValidate = validator.New()

// Ptr returns a pointer to v, for the optional Config fields.
func Ptr[T any](v T) *T { return &v }

// WithDefaults returns a copy of c with unset options filled in.
func (c Config) WithDefaults() Config {
	if c.InitMethod == "" {
		c.InitMethod = InitRandom
	}
	if c.InitNumber == nil {
		c.InitNumber = Ptr(DefaultInitNumber)
	}
	if c.Acquisition == "" {
		c.Acquisition = DefaultAcquisition
	}
	if c.Normalize == "" {
		c.Normalize = DefaultNormalize
	}
	if c.Kernel == "" {
		c.Kernel = DefaultKernel
	}
	if c.Restarts == 0 {
		c.Restarts = DefaultRestarts
	}
	if c.Xi == nil {
		c.Xi = Ptr(DefaultXi)
	}
	if c.Beta == nil {
		c.Beta = Ptr(DefaultBeta)
	}
	return c
}

// Validate checks the struct tags once at construction time.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return WrapError(ErrConfiguration, err.Error()).WithOperation("Config.Validate")
	}
	return nil
}

// Evaluation represents a single evaluation of the objective function.
type Evaluation struct {
	Iteration int
	Sample    Sample
	Value     float64
	Error     error
}

// OptimizationResult contains the result of an optimization run.
type OptimizationResult struct {
	Task       string
	Best       Sample
	BestValue  float64
	History    []Evaluation
	Iterations int
	// Exhausted is true when the run stopped because the budget was spent
	// rather than because the context ended.
	Exhausted bool
}
