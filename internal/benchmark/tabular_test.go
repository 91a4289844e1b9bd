package benchmark

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

const tableCSV = `lr, layers, workload, target
0.001, 2, 0, 0.30
0.010, 2, 0, 0.20
0.100, 4, 0, 0.25
0.001, 8, 1, 0.50
0.010, 8, 1, 0.10
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hpo.csv")
	require.NoError(t, os.WriteFile(path, []byte(tableCSV), 0o600))
	return path
}

func writeSQLite(t *testing.T, table string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hpo.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE "` + table + `" (lr REAL, layers INTEGER, workload INTEGER, target REAL)`)
	require.NoError(t, err)
	rows := [][]any{
		{0.001, 2, 0, 0.30},
		{0.010, 2, 0, 0.20},
		{0.100, 4, 0, 0.25},
		{0.001, 8, 1, 0.50},
		{0.010, 8, 1, 0.10},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO "`+table+`" VALUES (?, ?, ?, ?)`, r...)
		require.NoError(t, err)
	}
	return path
}

func TestLoadTable(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"csv", writeCSV},
		{"sqlite", func(t *testing.T) string { return writeSQLite(t, "hpo") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := LoadTable(context.Background(), tt.path(t), "hpo")
			require.NoError(t, err)
			assert.Equal(t, []string{"lr", "layers"}, table.Columns)
			assert.Len(t, table.Rows, 5)
			assert.Equal(t, []int{0, 0, 0, 1, 1}, table.Workloads)
			assert.InDelta(t, 0.10, table.Targets[4], 1e-12)
		})
	}
}

func TestLoadTableErrors(t *testing.T) {
	dir := t.TempDir()
	noTarget := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(noTarget, []byte("a,b\n1,2\n"), 0o600))
	notNumeric := filepath.Join(dir, "text.csv")
	require.NoError(t, os.WriteFile(notNumeric, []byte("a,target\nx,2\n"), 0o600))
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("a,target\n"), 0o600))

	tests := []struct {
		name  string
		path  string
		table string
	}{
		{"missing file", filepath.Join(dir, "nope.csv"), "t"},
		{"no target column", noTarget, "t"},
		{"non-numeric cell", notNumeric, "t"},
		{"no rows", empty, "t"},
		{"unsupported format", filepath.Join(dir, "table.parquet"), "t"},
		{"bad table name", writeSQLite(t, "hpo"), "hpo; DROP TABLE hpo"},
		{"missing table", writeSQLite(t, "hpo"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable(context.Background(), tt.path, tt.table)
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrConfiguration), "got %v", err)
		})
	}
}

func TestTabularLookup(t *testing.T) {
	table, err := LoadTable(context.Background(), writeCSV(t), "")
	require.NoError(t, err)

	p, err := NewTabular("hpo", 0, 5, table)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	info := p.Info()
	assert.Equal(t, "hpo_0", info.Name)

	layers, ok := info.Space.Variable("layers")
	require.True(t, ok)
	assert.Equal(t, space.Discrete, layers.Type)
	assert.Equal(t, []float64{2, 4}, layers.Domain)
	lr, ok := info.Space.Variable("lr")
	require.True(t, ok)
	assert.Equal(t, space.Continuous, lr.Type)

	got, err := p.Evaluate(context.Background(), []optimization.Sample{
		{"lr": 0.011, "layers": 2},
		{"lr": 0.09, "layers": 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.20, 0.25}, got)

	_, err = NewTabular("hpo", 7, 5, table)
	assert.True(t, errors.Is(err, optimization.ErrConfiguration))
}
