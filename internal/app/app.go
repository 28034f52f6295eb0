// Package app wires the sutra subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the term data, opens the
// optional structured store and assembles the correction pipeline from a
// [config.Config]; ApplyDiff applies hot-reloadable config changes and
// ReloadTermFile picks up edited term files; Shutdown releases everything in
// order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/MrWong99/sutra/internal/batch"
	"github.com/MrWong99/sutra/internal/cache"
	"github.com/MrWong99/sutra/internal/classify"
	"github.com/MrWong99/sutra/internal/compound"
	"github.com/MrWong99/sutra/internal/config"
	"github.com/MrWong99/sutra/internal/health"
	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/phonetic"
	"github.com/MrWong99/sutra/internal/pipeline"
	"github.com/MrWong99/sutra/internal/resilience"
	"github.com/MrWong99/sutra/internal/term"
	"github.com/MrWong99/sutra/internal/termsrc"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	table    *term.Table
	store    term.Store
	breaker  *resilience.Breaker
	cache    *cache.Cache[term.Entry]
	source   *termsrc.Source
	pipeline *pipeline.Pipeline
	runner   *batch.Runner
	metrics  *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a structured term store instead of opening the one named
// in the config. The injected store is not closed by Shutdown.
func WithStore(s term.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records pipeline, lookup and cache metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
//
// Only the complete absence of term data is fatal: an unreachable store is
// logged and skipped when the flat files provide terms.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTable(); err != nil {
		return nil, fmt.Errorf("app: init term table: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init term store: %w", err)
	}
	a.initCache()
	if err := a.initPipeline(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	return a, nil
}

func (a *App) initTable() error {
	a.table = term.NewTable()
	for _, path := range a.cfg.Terms.Files {
		if err := a.table.ReloadFile(path); err != nil {
			return err
		}
	}
	slog.Info("term table loaded", "files", len(a.cfg.Terms.Files), "entries", a.table.Len())
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	sc := a.cfg.Terms.Store
	if a.store == nil && sc.Driver != config.StoreNone {
		st, err := term.OpenStore(ctx, string(sc.Driver), sc.DSN)
		switch {
		case err != nil && a.table.Len() == 0:
			return err
		case err != nil:
			slog.Warn("term store unavailable, continuing with flat files only", "driver", sc.Driver, "err", err)
		default:
			a.store = st
			a.closers = append(a.closers, st.Close)
			slog.Info("term store opened", "driver", sc.Driver)
		}
	}
	if a.store == nil {
		return nil
	}

	a.breaker = resilience.New(resilience.Config{
		Name:         "term-store",
		MaxFailures:  sc.MaxFailures,
		ResetTimeout: sc.ResetTimeout,
		CallTimeout:  sc.Timeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
		},
	})
	return nil
}

func (a *App) initCache() {
	if !a.cfg.Cache.IsEnabled() {
		return
	}
	a.cache = termsrc.NewCache(cache.Config{
		MaxEntries: a.cfg.Cache.MaxEntries,
		MaxBytes:   a.cfg.Cache.MaxMemoryBytes,
	}, a.table, a.cfg.Terms.ReloadEnabled())
	if err := a.metrics.ObserveCache(a.cache.Stats); err != nil {
		slog.Warn("cache metrics unavailable", "err", err)
	}
}

func (a *App) initPipeline() error {
	srcOpts := []termsrc.Option{
		termsrc.WithThreshold(a.cfg.Terms.ConfidenceThreshold),
		termsrc.WithMaxWords(a.cfg.Compound.MaxWords),
		termsrc.WithReloadOnChange(a.cfg.Terms.ReloadEnabled()),
		termsrc.WithMetrics(a.metrics),
	}
	if a.cache != nil {
		srcOpts = append(srcOpts, termsrc.WithCache(a.cache))
	}
	if a.store != nil {
		srcOpts = append(srcOpts, termsrc.WithStore(a.store, a.breaker))
	}
	src, err := termsrc.New(a.table, srcOpts...)
	if err != nil {
		return err
	}
	a.source = src

	cc := a.cfg.Classifier
	classifier := classify.New(
		classify.WithMantraKeywordThreshold(cc.MantraKeywordThreshold),
		classify.WithTitleMinWords(cc.TitleMinWords),
		classify.WithMixedMinSignals(cc.MixedMinSignals),
		classify.WithCommentaryMinWords(cc.CommentaryMinWords),
	)

	pOpts := []pipeline.Option{
		pipeline.WithClassifier(classifier),
		pipeline.WithCompoundStage(compound.New(src, compound.WithContextWindow(a.cfg.Compound.ContextWindow))),
		pipeline.WithSacredProtection(a.cfg.Sacred.IsEnabled()),
		pipeline.WithMetrics(a.metrics),
	}
	if fc := a.cfg.Fuzzy; fc.Enabled {
		pOpts = append(pOpts, pipeline.WithFuzzy(phonetic.New(
			phonetic.WithPhoneticThreshold(fc.PhoneticThreshold),
			phonetic.WithFuzzyThreshold(fc.FuzzyThreshold),
		)))
	}
	p, err := pipeline.New(src, pOpts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	a.runner = batch.New(p, batch.WithWorkers(a.cfg.Batch.Workers))
	return nil
}

// Pipeline returns the segment orchestrator.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Runner returns the batch runner sharing the pipeline.
func (a *App) Runner() *batch.Runner { return a.runner }

// Source returns the hybrid term source.
func (a *App) Source() *termsrc.Source { return a.source }

// Table returns the flat-file term table.
func (a *App) Table() *term.Table { return a.table }

// HealthCheckers returns the readiness checks for the loaded subsystems.
// The table check is required unless a store can answer on its own.
func (a *App) HealthCheckers() []health.Checker {
	var cs []health.Checker
	if a.store == nil || a.table.Len() > 0 {
		cs = append(cs, health.TableChecker(a.table))
	}
	if a.store != nil {
		cs = append(cs, health.StoreChecker(a.source))
	}
	return cs
}

// ApplyDiff applies the hot-reloadable part of d: term files added to the
// config are loaded and removed ones are dropped. Settings that need a
// restart are logged. Load failures are joined and returned; the remaining
// files are still applied.
func (a *App) ApplyDiff(d config.ConfigDiff) error {
	var errs []error
	for _, f := range d.FilesAdded {
		if err := a.table.ReloadFile(f); err != nil {
			errs = append(errs, fmt.Errorf("app: load term file %q: %w", f, err))
			continue
		}
		slog.Info("term file added", "path", f)
	}
	for _, f := range d.FilesRemoved {
		if a.table.RemoveFile(f) {
			slog.Info("term file removed", "path", f)
		}
	}
	if (len(d.FilesAdded) > 0 || len(d.FilesRemoved) > 0) && a.cache != nil {
		a.cache.Clear()
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
	return errors.Join(errs...)
}

// ReloadTermFile brings the term table in line with the file at path after
// it changed on disk and drops the cached lookups it backed. A deleted file
// takes its entries with it.
func (a *App) ReloadTermFile(path string) {
	if a.table.Stale(path) {
		switch err := a.table.ReloadFile(path); {
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("term file disappeared, its entries are dropped", "path", path)
		case err != nil:
			slog.Warn("term file reload failed, keeping previous entries", "path", path, "err", err)
		default:
			slog.Info("term file reloaded", "path", path, "entries", a.table.Len())
		}
	}
	if a.cache != nil {
		a.cache.Invalidate(path)
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases what New opened before failing.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
