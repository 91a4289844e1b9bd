package optimization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Optimizer: VanillaBO}.WithDefaults()
	assert.Equal(t, InitRandom, cfg.InitMethod)
	assert.Equal(t, DefaultInitNumber, *cfg.InitNumber)
	assert.Equal(t, DefaultAcquisition, cfg.Acquisition)
	assert.Equal(t, DefaultNormalize, cfg.Normalize)
	assert.Equal(t, DefaultKernel, cfg.Kernel)
	assert.Equal(t, DefaultRestarts, cfg.Restarts)
	assert.Equal(t, DefaultXi, *cfg.Xi)
	assert.Equal(t, DefaultBeta, *cfg.Beta)

	// Explicit values survive.
	cfg = Config{Optimizer: VanillaBO, InitNumber: Ptr(3), Acquisition: "UCB"}.WithDefaults()
	assert.Equal(t, 3, *cfg.InitNumber)
	assert.Equal(t, "UCB", cfg.Acquisition)
}

func TestConfigExplicitZero(t *testing.T) {
	cfg := Config{Optimizer: VanillaBO, InitNumber: Ptr(0), Xi: Ptr(0.0), Beta: Ptr(0.0)}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, *cfg.InitNumber)
	assert.Equal(t, 0.0, *cfg.Xi)
	assert.Equal(t, 0.0, *cfg.Beta)

	var decoded Config
	require.NoError(t, yaml.Unmarshal([]byte("optimizer: BO\ninit_number: 0\nxi: 0\n"), &decoded))
	decoded = decoded.WithDefaults()
	assert.Equal(t, 0, *decoded.InitNumber)
	assert.Equal(t, 0.0, *decoded.Xi)
	assert.Equal(t, DefaultBeta, *decoded.Beta)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Optimizer: VanillaBO}.WithDefaults(), false},
		{"missing optimizer", Config{}.WithDefaults(), true},
		{"bad init method", Config{Optimizer: VanillaBO, InitMethod: "sobol"}, true},
		{"negative init number", Config{Optimizer: VanillaBO, InitNumber: Ptr(-2)}, true},
		{"bad normalizer", Config{Optimizer: VanillaBO, Normalize: "log"}, true},
		{"bad kernel", Config{Optimizer: VanillaBO, Kernel: "periodic"}, true},
		{"negative xi", Config{Optimizer: VanillaBO, Xi: Ptr(-0.1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestDatasetRows(t *testing.T) {
	var nilSet *Dataset
	_, err := nilSet.Rows()
	assert.True(t, errors.Is(err, ErrDataContract))

	_, err = (&Dataset{X: make([][]float64, 5), Y: make([]float64, 4)}).Rows()
	assert.True(t, errors.Is(err, ErrDataContract))
	assert.Contains(t, err.Error(), "X has 5 rows but Y has 4")

	n, err := (&Dataset{X: [][]float64{{1}, {2}}, Y: []float64{1, 2}}).Rows()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSample(t *testing.T) {
	s := Sample{"b": 2, "a": "relu", "c": 0.5}
	assert.Equal(t, "{a=relu, b=2, c=0.5}", s.String())

	c := s.Clone()
	c["a"] = "tanh"
	assert.Equal(t, "relu", s["a"])
}
