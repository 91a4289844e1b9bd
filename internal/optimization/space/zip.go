package space

import (
	"reflect"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// SubspaceOf checks that every variable of s is declared identically in design.
func (s *Space) SubspaceOf(design *Space) error {
	for _, v := range s.vars {
		dv, ok := design.Variable(v.Name)
		if !ok {
			return optimization.ConfigErrorf("search variable %q is not part of the design space", v.Name).WithComponent("space")
		}
		if !reflect.DeepEqual(dv, v) {
			return optimization.ConfigErrorf("search variable %q differs from its design declaration", v.Name).WithComponent("space")
		}
	}
	return nil
}

// ZipInputs expands a packed vector of the search space to a packed vector of
// the design space. Design variables that are not optimized are filled from
// ctx; a missing context value is a configuration error.
func ZipInputs(vec []float64, search, design *Space, ctx optimization.Sample) ([]float64, error) {
	if len(vec) != search.InputDim() {
		return nil, optimization.DataContractErrorf("vector has %d dims, search space has %d", len(vec), search.InputDim()).WithOperation("ZipInputs")
	}
	out := make([]float64, design.InputDim())
	for i, v := range design.vars {
		off, w := design.offsets[i], v.width()
		if j, ok := search.index[v.Name]; ok {
			copy(out[off:off+w], vec[search.offsets[j]:search.offsets[j]+w])
			continue
		}
		val, ok := ctx[v.Name]
		if !ok {
			return nil, optimization.ConfigErrorf("no context value for fixed variable %q", v.Name).WithOperation("ZipInputs")
		}
		packed, err := single(v).Pack(optimization.Sample{v.Name: val})
		if err != nil {
			return nil, err
		}
		copy(out[off:off+w], packed)
	}
	return out, nil
}

// InverseTransform maps search-space samples to design-space samples by
// adding the fixed context variables.
func InverseTransform(samples []optimization.Sample, search, design *Space, ctx optimization.Sample) ([]optimization.Sample, error) {
	out := make([]optimization.Sample, len(samples))
	for i, smp := range samples {
		vec, err := search.Pack(smp)
		if err != nil {
			return nil, err
		}
		full, err := ZipInputs(vec, search, design, ctx)
		if err != nil {
			return nil, err
		}
		if out[i], err = design.UnpackOne(full); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// single builds a one-variable space from an already validated variable.
func single(v Variable) *Space {
	return &Space{
		vars:    []Variable{v},
		index:   map[string]int{v.Name: 0},
		offsets: []int{0},
		dim:     v.width(),
	}
}
