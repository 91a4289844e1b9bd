package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	"github.com/copyleftdev/seqopt/internal/config"
	"github.com/copyleftdev/seqopt/internal/experiment"
	"github.com/copyleftdev/seqopt/internal/logging"
	"github.com/copyleftdev/seqopt/internal/metrics"
	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/acquisition"
	"github.com/copyleftdev/seqopt/internal/optimization/registry"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logOutput string
}

type runOptions struct {
	optimizer string
	seed      int64
	batch     int
	timeout   time.Duration
	jsonOut   bool

	metricsAddr string
	metricsFile string
}

func newRootCmd() *cobra.Command {
	var ro rootOptions
	root := &cobra.Command{
		Use:           "seqopt",
		Short:         "Sequential model-based optimization on benchmark suites",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ro.logLevel, "log-level", "warn", "minimum log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&ro.logFormat, "log-format", logging.FormatText, "log format (json, text)")
	root.PersistentFlags().StringVar(&ro.logOutput, "log-output", "stderr", "log destination (stdout, stderr or a file path)")

	root.AddCommand(newRunCmd(&ro), newTasksCmd(), newListCmd())
	return root
}

func newRunCmd(ro *rootOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run the experiment's optimizer on every task of its suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			if err := applyOverrides(cmd, exp, opts); err != nil {
				return err
			}

			level := ro.logLevel
			if exp.Optimizer.Verbose && !cmd.Flags().Changed("log-level") {
				level = "debug"
			}
			logger, closer, err := logging.NewLogger(&logging.Config{
				Level:  level,
				Format: ro.logFormat,
				Output: ro.logOutput,
			})
			if err != nil {
				return err
			}
			defer closer.Close()
			zlog := logging.NewZapLogger(logger)

			suite, err := exp.Suite()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New(opts.metricsAddr != "")
			if opts.metricsAddr != "" {
				_, shutdown, err := serveMetrics(opts.metricsAddr, m, zlog)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			runner := experiment.NewRunner(
				experiment.WithLogger(zlog),
				experiment.WithBatchSize(exp.BatchSize),
				experiment.WithTimeout(exp.Timeout),
				experiment.WithMetrics(m),
			)
			results, err := runner.RunSuite(ctx, suite, exp.Optimizer)
			if werr := writeResults(cmd.OutOrStdout(), results, opts.jsonOut); werr != nil && err == nil {
				err = werr
			}
			if opts.metricsFile != "" {
				if werr := prometheus.WriteToTextfile(opts.metricsFile, m.Registry()); werr != nil && err == nil {
					err = fmt.Errorf("write metrics: %w", werr)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.optimizer, "optimizer", "", "override the optimizer name")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "override the optimizer seed")
	cmd.Flags().IntVar(&opts.batch, "batch", 0, "override the batch size")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "override the per-task timeout")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the run lasts")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write the final metrics in the Prometheus text format to this file")
	return cmd
}

// serveMetrics exposes m on addr until the returned function is called and
// reports the bound address.
func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}, nil
}

// applyOverrides copies explicitly set flags into the experiment and
// validates it again.
func applyOverrides(cmd *cobra.Command, exp *config.Experiment, opts runOptions) error {
	flags := cmd.Flags()
	if flags.Changed("optimizer") {
		exp.Optimizer.Optimizer = optimization.Name(opts.optimizer)
	}
	if flags.Changed("seed") {
		exp.Optimizer.Seed = opts.seed
	}
	if flags.Changed("batch") {
		exp.BatchSize = opts.batch
	}
	if flags.Changed("timeout") {
		exp.Timeout = opts.timeout
	}
	return exp.Validate()
}

type resultSummary struct {
	Task        string              `json:"task"`
	Evaluations int                 `json:"evaluations"`
	Rounds      int                 `json:"rounds"`
	BestValue   float64             `json:"best_value"`
	Best        optimization.Sample `json:"best"`
	Exhausted   bool                `json:"exhausted"`
}

func writeResults(w io.Writer, results []*optimization.OptimizationResult, asJSON bool) error {
	rows := make([]resultSummary, len(results))
	for i, r := range results {
		rows[i] = resultSummary{
			Task:        r.Task,
			Evaluations: len(r.History),
			Rounds:      r.Iterations,
			BestValue:   r.BestValue,
			Best:        r.Best,
			Exhausted:   r.Exhausted,
		}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"results": rows})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tEVALS\tROUNDS\tBEST\tSAMPLE\tDONE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.6g\t%s\t%t\n", r.Task, r.Evaluations, r.Rounds, r.BestValue, r.Best, r.Exhausted)
	}
	return tw.Flush()
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <experiment.yaml>",
		Short: "List the problems of an experiment's suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			suite, err := exp.Suite()
			if err != nil {
				return err
			}
			return writeTasks(cmd.OutOrStdout(), suite.Tasks())
		},
	}
}

func writeTasks(w io.Writer, tasks []benchmark.TaskInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tBENCHMARK\tWORKLOAD\tBUDGET\tVARIABLES")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", t.Name, t.Benchmark, t.Workload, t.Budget, strings.Join(t.Space.Names(), ","))
	}
	return tw.Flush()
}

func newListCmd() *cobra.Command {
	lists := map[string]func() []string{
		"optimizers":   registry.Names,
		"benchmarks":   benchmark.Functions,
		"acquisitions": acquisition.Names,
	}
	return &cobra.Command{
		Use:       "list {optimizers|benchmarks|acquisitions}",
		Short:     "List registered names",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"optimizers", "benchmarks", "acquisitions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range lists[args[0]]() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
