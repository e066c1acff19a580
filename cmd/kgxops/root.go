package main

import (
	"context"
	"strings"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/graph"
	"kgxops/internal/logging"
	"kgxops/internal/metrics"
	"kgxops/internal/metrics/datadog"
	"kgxops/internal/metrics/prompush"
	"kgxops/internal/storage"

	// registers the sqlite backend with the storage factory
	_ "kgxops/internal/storage/sqlite"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries the state shared by every subcommand of one root command.
type app struct {
	v   *viper.Viper
	log *zap.Logger
	run config.RunFile
}

// NewRootCmd creates the kgxops command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: logging.Nop()}
	root := &cobra.Command{
		Use:           "kgxops",
		Short:         "Build and clean KGX graphs in an embedded store",
		Long:          "kgxops loads KGX node and edge files into a SQLite store, then deduplicates, normalizes and prunes the graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "run file (YAML or JSON)")
	pf.String("db", "", "database file; empty uses an in-memory store")
	pf.BoolP("verbose", "v", false, "enable debug logs")
	pf.String("job", graph.DefaultJob, "job name attached to metrics")
	pf.String("metrics-backend", "none", "metrics backend: pushgateway, datadog or none")
	pf.String("pushgateway-url", "http://localhost:9091", "Pushgateway base URL")
	pf.String("statsd-addr", "127.0.0.1:8125", "DogStatsD address")

	root.AddCommand(
		newJoinCmd(a),
		newDedupeCmd(a),
		newNormalizeCmd(a),
		newPruneCmd(a),
		newAppendCmd(a),
		newMergeCmd(a),
		newStatsCmd(a),
	)
	return root
}

// setup resolves settings with the precedence flag > env > run file >
// defaults and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("KGXOPS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	for _, name := range []string{"db", "verbose", "job", "metrics-backend", "pushgateway-url", "statsd-addr", "config"} {
		if err := a.v.BindPFlag(name, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return kgxerr.Wrap(err, kgxerr.CodeConfigLoadRead, "bind flag "+name)
		}
	}

	if path := a.v.GetString("config"); path != "" {
		rf, err := config.LoadRunFile(path)
		if err != nil {
			return err
		}
		a.run = rf
		a.v.SetDefault("db", rf.Database)
	}

	level := "info"
	if a.v.GetBool("verbose") {
		level = "debug"
	}
	log, err := logging.New(logging.Options{Level: level})
	if err != nil {
		return kgxerr.Wrap(err, kgxerr.CodeConfigValidateInvalidValue, "build logger")
	}
	a.log = log.With(zap.String("job", a.v.GetString("job")))
	return nil
}

// withEngine opens the store, installs the metrics backend and runs fn.
func (a *app) withEngine(cmd *cobra.Command, readOnly bool, fn func(ctx context.Context, e *graph.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer a.setupMetrics()()
	defer func() { _ = a.log.Sync() }()

	store, err := storage.Open(ctx, storage.Config{
		Path:     a.v.GetString("db"),
		ReadOnly: readOnly,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	a.log.Debug("store opened", zap.String("db", a.v.GetString("db")), zap.Bool("read_only", readOnly))
	return fn(ctx, graph.New(store, graph.WithLogger(a.log), graph.WithJob(a.v.GetString("job"))))
}

// setupMetrics installs the configured backend and returns the function
// that flushes it.
func (a *app) setupMetrics() func() {
	var (
		b       metrics.Backend
		err     error
		backend = strings.ToLower(strings.TrimSpace(a.v.GetString("metrics-backend")))
	)
	switch backend {
	case "pushgateway":
		b, err = prompush.NewBackend(a.v.GetString("job"), a.v.GetString("pushgateway-url"))
	case "datadog", "statsd":
		b, err = datadog.NewBackend(datadog.Config{Addr: a.v.GetString("statsd-addr"), Namespace: "kgx."})
	case "", "none":
		return func() {}
	default:
		a.log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", backend))
		return func() {}
	}
	if err != nil {
		a.log.Warn("metrics backend unavailable; metrics disabled", zap.String("backend", backend), zap.Error(err))
		return func() {}
	}
	metrics.SetBackend(b)
	a.log.Debug("metrics enabled", zap.String("backend", backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			a.log.Warn("metrics flush", zap.Error(err))
		}
		metrics.SetBackend(nil)
	}
}
