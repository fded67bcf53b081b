// Command perfctl inspects and maintains a report performance layer from
// the command line: pool health, index creation, the monitor report and
// metrics, and one-off monthly summaries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	perf "github.com/EmrahCan/budget-sub000"
	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/config"
	"github.com/EmrahCan/budget-sub000/logging"
	logruslog "github.com/EmrahCan/budget-sub000/logging/logrus"
	slogadapter "github.com/EmrahCan/budget-sub000/logging/slog"
	zaplog "github.com/EmrahCan/budget-sub000/logging/zap"
	"github.com/EmrahCan/budget-sub000/reports"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	err := a.root().ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "perfctl:", err)
		os.Exit(1)
	}
}

type app struct {
	cfgPath string
	verbose bool
	logger  string
	out     io.Writer

	log   logging.Logger
	sync  func() error
	layer *perf.Layer
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "perfctl",
		Short:         "Inspect and maintain the report performance layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "perf.yaml", "configuration file (.yaml, .yml or .toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "development logging at debug level")
	root.PersistentFlags().StringVar(&a.logger, "logger", "zap", "log backend: zap, logrus or slog")

	root.AddCommand(a.healthCmd(), a.indexesCmd(), a.optimizeCmd(), a.reportCmd(), a.metricsCmd(), a.schemaCmd(), a.summaryCmd())
	return root
}

func (a *app) open(ctx context.Context) error {
	if err := a.newLogger(); err != nil {
		return err
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	opts, err := cfg.Options(a.log)
	if err != nil {
		return err
	}
	// one-shot commands have no use for the periodic passes
	opts.OptimizeInterval, opts.CleanupInterval = -1, -1

	l, err := perf.New(opts)
	if err != nil {
		return err
	}
	a.layer = l
	return l.Initialize(ctx)
}

// newLogger writes logs to stderr so command output stays parseable.
func (a *app) newLogger() error {
	switch a.logger {
	case "", "zap":
		zl, err := zaplog.New(a.verbose)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		a.log, a.sync = zl, zl.L.Sync
	case "logrus":
		lr := logrus.New()
		lr.SetOutput(os.Stderr)
		lr.SetFormatter(&logrus.JSONFormatter{})
		if a.verbose {
			lr.SetLevel(logrus.DebugLevel)
		}
		a.log = logruslog.LogrusLogger{E: logrus.NewEntry(lr)}
	case "slog":
		level := stdslog.LevelInfo
		if a.verbose {
			level = stdslog.LevelDebug
		}
		a.log = slogadapter.Logger{L: stdslog.New(stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: level}))}
	default:
		return fmt.Errorf("unknown logger %q", a.logger)
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.layer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.layer.Shutdown(ctx))
	}
	if a.sync != nil {
		// stderr sync fails on some terminals
		_ = a.sync()
	}
	return errors.Join(errs...)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every pool and print its health and statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pools := a.layer.Pools()
			health := pools.HealthCheck(cmd.Context())
			type poolHealth struct {
				Health any `json:"health"`
				Stats  any `json:"stats"`
			}
			out := make(map[string]poolHealth, len(health))
			var bad []string
			for name, h := range health {
				out[name] = poolHealth{Health: h, Stats: pools.PoolStats(name)}
				if !h.Healthy {
					bad = append(bad, name)
				}
			}
			if err := a.print(out); err != nil {
				return err
			}
			if len(bad) > 0 {
				sort.Strings(bad)
				return fmt.Errorf("unhealthy pools: %v", bad)
			}
			return nil
		},
	}
}

func (a *app) indexesCmd() *cobra.Command {
	var pools []string
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Create the finance indexes on the given pools (default: the default pool)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(pools) == 0 {
				pools = []string{a.layer.DefaultPool()}
			}
			out := make(map[string]batch.IndexReport, len(pools))
			var errs []error
			for _, p := range pools {
				rep, err := a.layer.Executor().CreateOptimalIndexes(cmd.Context(), p)
				if err != nil {
					errs = append(errs, fmt.Errorf("pool %q: %w", p, err))
					continue
				}
				out[p] = rep
			}
			if err := a.print(out); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&pools, "pool", nil, "pool to index (repeatable)")
	return cmd
}

func (a *app) optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization pass and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.print(a.layer.Optimize(cmd.Context()))
		},
	}
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the performance monitor report",
		RunE: func(*cobra.Command, []string) error {
			a.layer.Monitor().Sample()
			rep, err := a.layer.Monitor().Report()
			if err != nil {
				return err
			}
			return a.print(rep)
		},
	}
}

func (a *app) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the metrics in Prometheus text format",
		RunE: func(*cobra.Command, []string) error {
			a.layer.Monitor().Sample()
			return a.layer.Monitor().WritePrometheus(a.out)
		},
	}
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the transactions table on the default pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reports.EnsureSchema(cmd.Context(), a.layer.Runner())
		},
	}
}

func (a *app) summaryCmd() *cobra.Command {
	var (
		user  int64
		month string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print one user's monthly income, expense and category breakdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := reports.MonthlySummary(cmd.Context(), a.layer, user, month)
			if err != nil {
				return err
			}
			return a.print(s)
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "user id")
	cmd.Flags().StringVar(&month, "month", time.Now().Format("2006-01"), "month as YYYY-MM")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
