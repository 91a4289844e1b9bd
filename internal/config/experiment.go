package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	"github.com/copyleftdev/seqopt/internal/optimization"
)

// Experiment is the content of an experiment file: one optimizer
// configuration run against every problem of a benchmark suite.
type Experiment struct {
	Name string `yaml:"name"`
	// Optimizer is validated by optimization.Config.Validate.
	Optimizer optimization.Config `yaml:"optimizer" validate:"-"`
	Tasks     benchmark.Tasks     `yaml:"tasks" validate:"required,min=1,dive"`
	// Seed fixes the benchmark workloads. The optimizer has its own seed.
	Seed      int64  `yaml:"seed"`
	Remote    bool   `yaml:"remote"`
	ServerURL string `yaml:"server_url" validate:"required_if=Remote true,omitempty,url"`
	// BatchSize is the number of samples requested per round.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`
	// Timeout bounds the loop of each problem; zero means no limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

var experimentValidate = validator.New()

// LoadExperiment reads and validates an experiment file. Relative table
// paths are resolved against the file's directory.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "read experiment file: %v", err).WithComponent("config")
	}
	return ParseExperiment(data, filepath.Dir(path))
}

// ParseExperiment decodes an experiment from YAML. Unknown keys are
// rejected and the optimizer name is required.
func ParseExperiment(data []byte, baseDir string) (*Experiment, error) {
	var exp Experiment
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&exp); err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "parse experiment: %v", err).WithComponent("config")
	}

	exp.Optimizer = exp.Optimizer.WithDefaults()
	if exp.BatchSize == 0 {
		exp.BatchSize = 1
	}
	for name, task := range exp.Tasks {
		if task.Path != "" && !filepath.IsAbs(task.Path) && baseDir != "" {
			task.Path = filepath.Join(baseDir, task.Path)
			exp.Tasks[name] = task
		}
	}

	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Validate checks the experiment and its optimizer configuration.
func (e *Experiment) Validate() error {
	if err := experimentValidate.Struct(e); err != nil {
		return optimization.WrapError(optimization.ErrConfiguration, err.Error()).WithComponent("config").WithOperation("Experiment.Validate")
	}
	if err := e.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	return nil
}

// Suite builds the benchmark suite described by the experiment.
func (e *Experiment) Suite() (*benchmark.Suite, error) {
	return benchmark.BuildSuite(e.Tasks, e.Seed, e.Remote, e.ServerURL)
}
