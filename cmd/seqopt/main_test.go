package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/seqopt/internal/metrics"
	"github.com/copyleftdev/seqopt/internal/optimization"
)

const experimentYAML = `name: smoke
optimizer:
  optimizer: RS
  seed: 3
seed: 11
batch_size: 2
tasks:
  sphere:
    budget: 6
    workloads: [0, 1]
    params: {dim: 2}
`

func writeExperiment(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(experimentYAML), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	tests := []struct {
		kind string
		want []string
	}{
		{"optimizers", []string{"BO", "RS"}},
		{"benchmarks", []string{"branin", "sphere"}},
		{"acquisitions", []string{"EI"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			out, err := execute(t, "list", tt.kind)
			require.NoError(t, err)
			lines := strings.Fields(out)
			for _, w := range tt.want {
				assert.Contains(t, lines, w)
			}
		})
	}

	_, err := execute(t, "list", "kernels")
	assert.Error(t, err)
}

func TestTasks(t *testing.T) {
	out, err := execute(t, "tasks", writeExperiment(t))
	require.NoError(t, err)
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "sphere_0")
	assert.Contains(t, out, "sphere_1")
	assert.Contains(t, out, "x0,x1")
}

func TestRun(t *testing.T) {
	path := writeExperiment(t)

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "run", path)
		require.NoError(t, err)
		assert.Contains(t, out, "sphere_0")
		assert.Contains(t, out, "true")
	})

	t.Run("json with overrides", func(t *testing.T) {
		out, err := execute(t, "run", path, "--json", "--batch", "3", "--seed", "5")
		require.NoError(t, err)

		var got struct {
			Results []resultSummary `json:"results"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.Len(t, got.Results, 2)
		for _, r := range got.Results {
			assert.Equal(t, 6, r.Evaluations)
			assert.Equal(t, 2, r.Rounds)
			assert.True(t, r.Exhausted)
			assert.GreaterOrEqual(t, r.BestValue, 0.0)
		}
	})

	t.Run("metrics file", func(t *testing.T) {
		metricsPath := filepath.Join(t.TempDir(), "seqopt.prom")
		_, err := execute(t, "run", path, "--metrics-file", metricsPath, "--metrics-addr", "127.0.0.1:0")
		require.NoError(t, err)

		raw, err := os.ReadFile(metricsPath)
		require.NoError(t, err)
		text := string(raw)
		assert.Contains(t, text, `seqopt_experiment_iterations_total{task="sphere_0"} 3`)
		assert.Contains(t, text, `seqopt_experiment_iterations_total{task="sphere_1"} 3`)
		assert.Contains(t, text, `seqopt_optimizer_suggestions_total{optimizer="RS"} 12`)
		assert.Contains(t, text, "seqopt_experiment_best_value")
	})

	t.Run("unknown optimizer", func(t *testing.T) {
		_, err := execute(t, "run", path, "--optimizer", "CMA")
		assert.ErrorIs(t, err, optimization.ErrConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, optimization.ErrConfiguration)
	})

	t.Run("no args", func(t *testing.T) {
		_, err := execute(t, "run")
		assert.Error(t, err)
	})
}

func TestServeMetrics(t *testing.T) {
	m := metrics.New(false)
	m.Iteration("branin_0", 1.5)

	addr, shutdown, err := serveMetrics("127.0.0.1:0", m, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `seqopt_experiment_best_value{task="branin_0"} 1.5`)

	shutdown()
	_, err = http.Get("http://" + addr.String() + "/metrics")
	assert.Error(t, err)

	_, _, err = serveMetrics("not-an-address", m, zaptest.NewLogger(t))
	assert.Error(t, err)
}
