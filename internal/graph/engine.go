// Package graph implements the graph operations that run against a store:
// join, deduplicate, normalize, prune, append and the merge pipeline.
//
// Every operation takes the store through an explicit Engine handle. Each
// step runs inside one store transaction, so a failed step leaves the store
// as it was before the step began.
package graph

import (
	"context"
	"time"

	"kgxops/internal/config"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/loader"
	"kgxops/internal/logging"
	"kgxops/internal/metrics"
	"kgxops/internal/storage"

	"go.uber.org/zap"
)

// DefaultJob labels metrics when no job name is set.
const DefaultJob = "kgxops"

// Engine runs graph operations against a store.
type Engine struct {
	store storage.Store
	log   *zap.Logger
	job   string
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNop(l) }
}

// WithJob sets the job label attached to metrics.
func WithJob(job string) Option {
	return func(e *Engine) {
		if job != "" {
			e.job = job
		}
	}
}

func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: zap.NewNop(), job: DefaultJob}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Store() storage.Store { return e.store }

// step runs fn in one transaction and records its latency and outcome.
func (e *Engine) step(ctx context.Context, name string, fn func(tx storage.Store) error) error {
	if e.store.ReadOnly() {
		return kgxerr.New(kgxerr.CodeStoreReadOnly, "store is opened read-only", kgxerr.FieldStep(name))
	}
	start := time.Now()
	err := e.store.Atomic(ctx, fn)
	elapsed := time.Since(start)
	metrics.RecordStep(e.job, name, err, elapsed)
	if err != nil {
		e.log.Error("step failed", zap.String("step", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return kgxerr.Wrap(err, kgxerr.CodePipelineStepFailure, name+" failed", kgxerr.FieldStep(name))
	}
	e.log.Info("step done", zap.String("step", name), zap.Duration("elapsed", elapsed))
	return nil
}

func (e *Engine) loader(tx storage.Store, lc config.LoaderConfig, providedBy bool) *loader.Loader {
	return loader.New(tx, loader.Options{
		Config:             lc,
		GenerateProvidedBy: providedBy,
		Job:                e.job,
		Logger:             e.log,
	})
}

// finish stamps timing and store statistics onto s.
func (e *Engine) finish(ctx context.Context, s *Summary, start time.Time) {
	s.Elapsed = time.Since(start)
	if st, err := CollectStats(ctx, e.store); err == nil {
		s.Stats = &st
	} else {
		e.log.Warn("collect stats", zap.Error(err))
	}
}

func (e *Engine) hasTable(ctx context.Context, tx storage.Store, table string) (bool, error) {
	ok, err := tx.HasTable(ctx, table)
	if err != nil {
		return false, kgxerr.Wrap(err, kgxerr.CodeStoreDatabaseFailure, "inspect store", kgxerr.FieldTable(table))
	}
	return ok, nil
}

func (e *Engine) count(ctx context.Context, tx storage.Store, table string) (int64, error) {
	ok, err := e.hasTable(ctx, tx, table)
	if err != nil || !ok {
		return 0, err
	}
	return tx.Count(ctx, table)
}
