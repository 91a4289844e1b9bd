package benchmark

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	// Registers the pure-Go "sqlite" driver for database/sql.
	_ "modernc.org/sqlite"

	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Reserved table columns. Every other column is a search variable.
const (
	TargetColumn   = "target"
	WorkloadColumn = "workload"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table is a dense lookup table of pre-computed objective values.
type Table struct {
	// Columns are the variable columns in file order.
	Columns []string
	Rows    [][]float64
	Targets []float64
	// Workloads holds the workload of every row, or nil when the table has
	// no workload column.
	Workloads []int
}

// LoadTable reads a table from a .csv file or from a SQLite database
// (.db, .sqlite, .sqlite3). For databases the table name defaults to the
// benchmark name.
func LoadTable(ctx context.Context, path, table string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSV(path)
	case ".db", ".sqlite", ".sqlite3":
		return loadSQLite(ctx, path, table)
	default:
		return nil, optimization.ConfigErrorf("unsupported table format %q", path).WithComponent("benchmark")
	}
}

func loadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "open table: %v", err).WithComponent("benchmark")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "read header of %s: %v", path, err).WithComponent("benchmark")
	}
	b, err := newTableBuilder(header)
	if err != nil {
		return nil, err
	}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "read %s: %v", path, err).WithComponent("benchmark")
		}
		vals := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, optimization.ConfigErrorf("%s line %d column %q: %v", path, line, header[i], err).WithComponent("benchmark")
			}
			vals[i] = v
		}
		b.add(vals)
	}
	return b.table()
}

func loadSQLite(ctx context.Context, path, table string) (*Table, error) {
	if !identifier.MatchString(table) {
		return nil, optimization.ConfigErrorf("invalid table name %q", table).WithComponent("benchmark")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "open table: %v", err).WithComponent("benchmark")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "open %s: %v", path, err).WithComponent("benchmark")
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
	if err != nil {
		return nil, optimization.WrapErrorf(optimization.ErrConfiguration, "query table %s: %v", table, err).WithComponent("benchmark")
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	b, err := newTableBuilder(header)
	if err != nil {
		return nil, err
	}
	raw := make([]any, len(header))
	ptrs := make([]any, len(header))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		vals := make([]float64, len(raw))
		for i, v := range raw {
			f, err := sqlFloat(v)
			if err != nil {
				return nil, optimization.ConfigErrorf("table %s column %q: %v", table, header[i], err).WithComponent("benchmark")
			}
			vals[i] = f
		}
		b.add(vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.table()
}

func sqlFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	case nil:
		return 0, errors.New("NULL value")
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

type tableBuilder struct {
	t         Table
	varIdx    []int
	targetIdx int
	wlIdx     int
}

func newTableBuilder(header []string) (*tableBuilder, error) {
	b := &tableBuilder{targetIdx: -1, wlIdx: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case TargetColumn:
			b.targetIdx = i
		case WorkloadColumn:
			b.wlIdx = i
		default:
			b.varIdx = append(b.varIdx, i)
			b.t.Columns = append(b.t.Columns, strings.TrimSpace(h))
		}
	}
	if b.targetIdx < 0 {
		return nil, optimization.ConfigErrorf("table has no %q column", TargetColumn).WithComponent("benchmark")
	}
	if len(b.varIdx) == 0 {
		return nil, optimization.ConfigErrorf("table has no variable columns").WithComponent("benchmark")
	}
	return b, nil
}

func (b *tableBuilder) add(vals []float64) {
	row := make([]float64, len(b.varIdx))
	for j, i := range b.varIdx {
		row[j] = vals[i]
	}
	b.t.Rows = append(b.t.Rows, row)
	b.t.Targets = append(b.t.Targets, vals[b.targetIdx])
	if b.wlIdx >= 0 {
		b.t.Workloads = append(b.t.Workloads, int(vals[b.wlIdx]))
	}
}

func (b *tableBuilder) table() (*Table, error) {
	if len(b.t.Rows) == 0 {
		return nil, optimization.ConfigErrorf("table is empty").WithComponent("benchmark")
	}
	t := b.t
	return &t, nil
}

// Tabular answers queries with the target of the nearest table row.
type Tabular struct {
	info    TaskInfo
	rows    [][]float64 // unit-scaled
	targets []float64
}

// NewTabular builds the problem for one workload of a table. Rows whose
// workload differs are dropped when the table has a workload column.
// Integral columns become discrete variables.
func NewTabular(benchmark string, workload, budget int, t *Table) (*Tabular, error) {
	var rows [][]float64
	var targets []float64
	for i, row := range t.Rows {
		if t.Workloads != nil && t.Workloads[i] != workload {
			continue
		}
		rows = append(rows, row)
		targets = append(targets, t.Targets[i])
	}
	if len(rows) == 0 {
		return nil, optimization.ConfigErrorf("table %s has no rows for workload %d", benchmark, workload).WithComponent("benchmark")
	}

	vars := make([]space.Variable, len(t.Columns))
	for j, name := range t.Columns {
		lo, hi, integral := math.Inf(1), math.Inf(-1), true
		for _, row := range rows {
			lo, hi = math.Min(lo, row[j]), math.Max(hi, row[j])
			integral = integral && row[j] == math.Trunc(row[j])
		}
		v := space.Variable{Name: name, Type: space.Continuous, Domain: []float64{lo, hi}}
		if integral {
			v.Type = space.Discrete
		} else if lo == hi {
			v.Domain = []float64{lo - 0.5, hi + 0.5}
		}
		vars[j] = v
	}
	sp, err := space.New(vars...)
	if err != nil {
		return nil, err
	}

	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = sp.ToUnit(row)
	}
	return &Tabular{
		info: TaskInfo{
			Name:      fmt.Sprintf("%s_%d", benchmark, workload),
			Benchmark: benchmark,
			Workload:  workload,
			Budget:    budget,
			Space:     sp,
		},
		rows:    scaled,
		targets: targets,
	}, nil
}

// Info describes the problem.
func (t *Tabular) Info() TaskInfo { return t.info }

// Len returns the number of rows available to this workload.
func (t *Tabular) Len() int { return len(t.rows) }

// Evaluate returns, for every sample, the target of the closest row in the
// unit-scaled space.
func (t *Tabular) Evaluate(ctx context.Context, samples []optimization.Sample) ([]float64, error) {
	return evaluateAll(ctx, t.info.Space, samples, func(x []float64) (float64, error) {
		u := t.info.Space.ToUnit(x)
		best, bestD := 0, math.Inf(1)
		for i, row := range t.rows {
			d := 0.0
			for j := range row {
				diff := row[j] - u[j]
				d += diff * diff
			}
			if d < bestD {
				best, bestD = i, d
			}
		}
		return t.targets[best], nil
	})
}
