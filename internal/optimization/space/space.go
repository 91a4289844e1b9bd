// Package space describes mixed-type search spaces and converts samples
// between their named (design-space) form and flat numeric vectors.
package space

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// VarType is the kind of a search-space variable.
type VarType string

const (
	Continuous  VarType = "continuous"
	Discrete    VarType = "discrete"
	Categorical VarType = "categorical"
)

// Variable declares one named dimension of a search space. Continuous and
// discrete variables use Domain as an inclusive [low, high] pair; categorical
// variables use Categories.
type Variable struct {
	Name       string    `yaml:"name" json:"name"`
	Type       VarType   `yaml:"type" json:"type"`
	Domain     []float64 `yaml:"domain,omitempty" json:"domain,omitempty"`
	Categories []string  `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Low returns the lower bound of a numeric variable.
func (v Variable) Low() float64 { return v.Domain[0] }

// High returns the upper bound of a numeric variable.
func (v Variable) High() float64 { return v.Domain[1] }

// width is the number of packed dimensions the variable occupies.
func (v Variable) width() int {
	if v.Type == Categorical {
		return len(v.Categories)
	}
	return 1
}

func (v Variable) validate() *optimization.Error {
	if v.Name == "" {
		return optimization.ConfigErrorf("variable is missing a name")
	}
	switch v.Type {
	case Continuous, Discrete:
		if len(v.Domain) != 2 {
			return optimization.ConfigErrorf("variable %q: domain must be [low, high], got %v", v.Name, v.Domain)
		}
		lo, hi := v.Domain[0], v.Domain[1]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return optimization.ConfigErrorf("variable %q: domain must be finite", v.Name)
		}
		if v.Type == Continuous && !(lo < hi) {
			return optimization.ConfigErrorf("variable %q: low %v must be below high %v", v.Name, lo, hi)
		}
		if v.Type == Discrete {
			if lo > hi {
				return optimization.ConfigErrorf("variable %q: low %v must not exceed high %v", v.Name, lo, hi)
			}
			if lo != math.Trunc(lo) || hi != math.Trunc(hi) {
				return optimization.ConfigErrorf("variable %q: discrete domain must be integral", v.Name)
			}
		}
	case Categorical:
		if len(v.Categories) == 0 {
			return optimization.ConfigErrorf("variable %q: categorical domain is empty", v.Name)
		}
		seen := make(map[string]struct{}, len(v.Categories))
		for _, c := range v.Categories {
			if _, dup := seen[c]; dup {
				return optimization.ConfigErrorf("variable %q: duplicate category %q", v.Name, c)
			}
			seen[c] = struct{}{}
		}
	case "":
		return optimization.ConfigErrorf("variable %q is missing a type", v.Name)
	default:
		return optimization.ConfigErrorf("variable %q: unknown type %q", v.Name, v.Type)
	}
	return nil
}

// Space is an ordered, immutable set of variables.
type Space struct {
	vars    []Variable
	index   map[string]int
	offsets []int
	dim     int
}

// New validates the variables and builds a Space.
func New(vars ...Variable) (*Space, error) {
	if len(vars) == 0 {
		return nil, optimization.ConfigErrorf("search space has no variables").WithComponent("space")
	}
	s := &Space{
		vars:    make([]Variable, len(vars)),
		index:   make(map[string]int, len(vars)),
		offsets: make([]int, len(vars)),
	}
	for i, v := range vars {
		if err := v.validate(); err != nil {
			return nil, err.WithComponent("space")
		}
		if _, dup := s.index[v.Name]; dup {
			return nil, optimization.ConfigErrorf("duplicate variable name %q", v.Name).WithComponent("space")
		}
		v.Domain = append([]float64(nil), v.Domain...)
		v.Categories = append([]string(nil), v.Categories...)
		s.vars[i] = v
		s.index[v.Name] = i
		s.offsets[i] = s.dim
		s.dim += v.width()
	}
	return s, nil
}

// MustNew is like New but panics on an invalid space. Intended for tests and
// built-in benchmark definitions.
func MustNew(vars ...Variable) *Space {
	s, err := New(vars...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of variables.
func (s *Space) Len() int { return len(s.vars) }

// InputDim returns the number of packed dimensions after one-hot expansion.
func (s *Space) InputDim() int { return s.dim }

// Variables returns a copy of the variable list in declaration order.
func (s *Space) Variables() []Variable {
	out := make([]Variable, len(s.vars))
	copy(out, s.vars)
	return out
}

// Names returns the variable names in declaration order.
func (s *Space) Names() []string {
	out := make([]string, len(s.vars))
	for i, v := range s.vars {
		out[i] = v.Name
	}
	return out
}

// Variable looks a variable up by name.
func (s *Space) Variable(name string) (Variable, bool) {
	i, ok := s.index[name]
	if !ok {
		return Variable{}, false
	}
	return s.vars[i], true
}

// Bounds returns [low, high] for every packed dimension.
func (s *Space) Bounds() [][2]float64 {
	b := make([][2]float64, 0, s.dim)
	for _, v := range s.vars {
		switch v.Type {
		case Categorical:
			for range v.Categories {
				b = append(b, [2]float64{0, 1})
			}
		default:
			b = append(b, [2]float64{v.Low(), v.High()})
		}
	}
	return b
}

// MarshalJSON encodes the space as its variable list.
func (s *Space) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.vars)
}

// UnmarshalJSON decodes and validates a variable list.
func (s *Space) UnmarshalJSON(data []byte) error {
	var vars []Variable
	if err := json.Unmarshal(data, &vars); err != nil {
		return err
	}
	ns, err := New(vars...)
	if err != nil {
		return err
	}
	*s = *ns
	return nil
}

// Pack converts a sample to a flat vector ordered by declaration order.
// Keys that are not variables of this space are ignored.
func (s *Space) Pack(sample optimization.Sample) ([]float64, error) {
	out := make([]float64, s.dim)
	for i, v := range s.vars {
		raw, ok := sample[v.Name]
		if !ok {
			return nil, optimization.DataContractErrorf("sample is missing variable %q", v.Name).WithOperation("Space.Pack")
		}
		off := s.offsets[i]
		switch v.Type {
		case Continuous:
			f, ok := toFloat(raw)
			if !ok {
				return nil, optimization.DataContractErrorf("variable %q: %v is not numeric", v.Name, raw).WithOperation("Space.Pack")
			}
			out[off] = f
		case Discrete:
			f, ok := toFloat(raw)
			if !ok {
				return nil, optimization.DataContractErrorf("variable %q: %v is not numeric", v.Name, raw).WithOperation("Space.Pack")
			}
			out[off] = math.Round(f)
		case Categorical:
			label := fmt.Sprint(raw)
			idx := -1
			for j, c := range v.Categories {
				if c == label {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, optimization.DataContractErrorf("variable %q: unknown category %q", v.Name, label).WithOperation("Space.Pack")
			}
			out[off+idx] = 1
		}
	}
	return out, nil
}

// PackAll packs a batch of samples into rows.
func (s *Space) PackAll(samples []optimization.Sample) ([][]float64, error) {
	rows := make([][]float64, len(samples))
	for i, smp := range samples {
		row, err := s.Pack(smp)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

// UnpackOne decodes a single packed vector. Continuous values are copied
// verbatim, discrete values are rounded and clamped, categorical blocks are
// decoded by argmax.
func (s *Space) UnpackOne(vec []float64) (optimization.Sample, error) {
	if len(vec) != s.dim {
		return nil, optimization.DataContractErrorf("vector has %d dims, space has %d", len(vec), s.dim).WithOperation("Space.Unpack")
	}
	out := make(optimization.Sample, len(s.vars))
	for i, v := range s.vars {
		off := s.offsets[i]
		switch v.Type {
		case Continuous:
			out[v.Name] = vec[off]
		case Discrete:
			out[v.Name] = clamp(int(math.Round(vec[off])), int(v.Low()), int(v.High()))
		case Categorical:
			best := 0
			for j := 1; j < len(v.Categories); j++ {
				if vec[off+j] > vec[off+best] {
					best = j
				}
			}
			out[v.Name] = v.Categories[best]
		}
	}
	return out, nil
}

// Unpack decodes a batch of packed vectors.
func (s *Space) Unpack(vecs [][]float64) ([]optimization.Sample, error) {
	out := make([]optimization.Sample, len(vecs))
	for i, vec := range vecs {
		smp, err := s.UnpackOne(vec)
		if err != nil {
			return nil, err
		}
		out[i] = smp
	}
	return out, nil
}

// ToUnit maps a packed vector into the unit cube used as model space.
func (s *Space) ToUnit(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for d, b := range s.Bounds() {
		w := b[1] - b[0]
		if w == 0 {
			out[d] = 0
			continue
		}
		out[d] = (vec[d] - b[0]) / w
	}
	return out
}

// FromUnit maps a model-space vector back to packed coordinates, clamping to
// the declared bounds.
func (s *Space) FromUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for d, b := range s.Bounds() {
		out[d] = clamp(b[0]+clamp(u[d], 0, 1)*(b[1]-b[0]), b[0], b[1])
	}
	return out
}

// Contains reports whether every variable of the sample lies in its domain.
func (s *Space) Contains(sample optimization.Sample) bool {
	for _, v := range s.vars {
		raw, ok := sample[v.Name]
		if !ok {
			return false
		}
		switch v.Type {
		case Continuous, Discrete:
			f, ok := toFloat(raw)
			if !ok || f < v.Low() || f > v.High() {
				return false
			}
		case Categorical:
			label := fmt.Sprint(raw)
			found := false
			for _, c := range v.Categories {
				if c == label {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// fromUnitVariable maps u in [0, 1) onto the domain of v.
func fromUnitVariable(v Variable, u float64) any {
	switch v.Type {
	case Discrete:
		n := int(v.High()-v.Low()) + 1
		return clamp(int(v.Low())+int(u*float64(n)), int(v.Low()), int(v.High()))
	case Categorical:
		return v.Categories[clamp(int(u*float64(len(v.Categories))), 0, len(v.Categories)-1)]
	default:
		return v.Low() + u*(v.High()-v.Low())
	}
}

// Uniform draws one sample uniformly from every variable's domain.
func (s *Space) Uniform(rng *rand.Rand) optimization.Sample {
	out := make(optimization.Sample, len(s.vars))
	for _, v := range s.vars {
		out[v.Name] = fromUnitVariable(v, rng.Float64())
	}
	return out
}

// RandomSamples draws n independent uniform samples.
func (s *Space) RandomSamples(n int, rng *rand.Rand) []optimization.Sample {
	out := make([]optimization.Sample, n)
	for i := range out {
		out[i] = s.Uniform(rng)
	}
	return out
}

// LatinHypercube draws n samples stratified so that each variable has exactly
// one sample in each of n equal-width bins.
func (s *Space) LatinHypercube(n int, rng *rand.Rand) []optimization.Sample {
	samples := make([]optimization.Sample, n)
	for j := range samples {
		samples[j] = make(optimization.Sample, len(s.vars))
	}
	if n == 0 {
		return samples
	}

	strata := make([]float64, n)
	for _, v := range s.vars {
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := 0; j < n; j++ {
			samples[j][v.Name] = fromUnitVariable(v, strata[j])
		}
	}
	return samples
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
