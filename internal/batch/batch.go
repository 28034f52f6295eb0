// Package batch processes many segments in parallel through one shared
// [pipeline.Pipeline].
//
// Output order always equals input order and every input segment yields a
// result. When the context is cancelled no new segments are started; the
// ones never started come back unchanged with an "error=cancelled"
// annotation.
package batch

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/pipeline"
	"github.com/MrWong99/sutra/pkg/types"
)

// ErrorCancelled is the metadata error value of segments that were never
// started.
const ErrorCancelled = "cancelled"

// Processor corrects one segment. [*pipeline.Pipeline] satisfies it.
type Processor interface {
	Process(ctx context.Context, text string) *pipeline.Result
}

// Summary describes a finished run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Segments    int           `json:"segments"`
	Changed     int           `json:"changed"`
	Corrections int           `json:"corrections"`
	Failed      int           `json:"failed"`
	Cancelled   int           `json:"cancelled"`
	Duration    time.Duration `json:"duration_ns"`
}

// Option is a functional option for configuring a [Runner].
type Option func(*Runner)

// WithWorkers sets the number of segments processed concurrently. Zero or
// negative values select [runtime.NumCPU].
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// Runner fans segments out to a bounded number of workers.
type Runner struct {
	p       Processor
	workers int
}

// New returns a [Runner] over p.
func New(p Processor, opts ...Option) *Runner {
	r := &Runner{p: p, workers: runtime.NumCPU()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Workers returns the configured concurrency.
func (r *Runner) Workers() int { return r.workers }

// Run processes segments and returns one result per segment, in input
// order, together with a summary of the run.
func (r *Runner) Run(ctx context.Context, segments []string) ([]*pipeline.Result, Summary) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Segments: len(segments)}
	ctx = observe.WithRunID(ctx, sum.RunID)
	log := observe.Logger(ctx)
	log.Debug("batch: run started", "segments", len(segments), "workers", r.workers)

	results := make([]*pipeline.Result, len(segments))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = r.p.Process(observe.WithSegmentIndex(ctx, i), seg)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	for i, res := range results {
		if res == nil {
			results[i] = cancelled(segments[i])
			sum.Cancelled++
			continue
		}
		if res.Failed() {
			sum.Failed++
		}
		if res.Changed() {
			sum.Changed++
		}
		sum.Corrections += len(res.Corrections)
	}
	sum.Duration = time.Since(start)

	log.Info("batch: run finished",
		"segments", sum.Segments,
		"changed", sum.Changed,
		"corrections", sum.Corrections,
		"failed", sum.Failed,
		"cancelled", sum.Cancelled,
		"duration", sum.Duration,
	)
	return results, sum
}

func cancelled(text string) *pipeline.Result {
	return &pipeline.Result{
		Text:        text,
		Original:    text,
		Corrections: []types.Correction{},
		Metadata:    map[string]string{"error": ErrorCancelled},
	}
}
