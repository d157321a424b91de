// Package collector runs collection cycles: it decides which entities need
// work, fetches them through bounded workers, and writes results through the
// sink.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

const (
	KindPrices      = "prices"
	KindNews        = "news"
	KindDisclosures = "disclosures"
	KindRepair      = "repair"

	DefaultWorkers = 3
)

// RunStore persists cycle summaries.
type RunStore interface {
	SaveRun(r storage.Run) error
}

// EntityFailure records why one entity could not be collected.
type EntityFailure struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// Summary is the end-of-cycle report of one collection run.
type Summary struct {
	RunID        string          `json:"run_id"`
	Kind         string          `json:"kind"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Processed    int             `json:"processed"`
	Succeeded    int             `json:"succeeded"`
	SkippedFresh int             `json:"skipped_fresh"`
	Failed       int             `json:"failed"`
	Rejected     int             `json:"rejected"`
	RateLimited  int             `json:"rate_limited"`
	Inserted     int             `json:"inserted"`
	Duplicates   int             `json:"duplicates"`
	Failures     []EntityFailure `json:"failures,omitempty"`
}

// Run converts s to its stored form.
func (s Summary) Run() storage.Run {
	return storage.Run{
		ID:           s.RunID,
		Kind:         s.Kind,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Processed:    s.Processed,
		Succeeded:    s.Succeeded,
		SkippedFresh: s.SkippedFresh,
		Failed:       s.Failed,
		Rejected:     s.Rejected,
		RateLimited:  s.RateLimited,
		Inserted:     s.Inserted,
		Duplicates:   s.Duplicates,
	}
}

// Options tunes the worker pool and retries shared by every collector.
type Options struct {
	Workers int
	Retry   source.RetryPolicy
	// Now is the clock used for run timestamps. Tests replace it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = source.DefaultRetryPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// outcome is what one entity's work produced.
type outcome struct {
	err         error
	rateLimited bool
	inserted    int
	duplicates  int
	rejected    int
}

func failed(err error) outcome { return outcome{err: err} }

// cycle accumulates a Summary across concurrent workers and stops handing out
// work once a daily call ceiling has been reached.
type cycle struct {
	mu      sync.Mutex
	summary Summary
	stopped atomic.Bool
	opts    Options
	logger  *slog.Logger
}

func newCycle(kind string, opts Options, logger *slog.Logger) *cycle {
	return &cycle{
		summary: Summary{
			RunID:     uuid.NewString(),
			Kind:      kind,
			StartedAt: opts.Now().UTC(),
		},
		opts:   opts,
		logger: logger,
	}
}

// each runs fn for every entity on the worker pool. Entities reached after the
// daily ceiling was hit are counted as rate limited without being attempted.
func (c *cycle) each(ctx context.Context, entities []storage.Entity, fn func(context.Context, storage.Entity) outcome) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for _, e := range entities {
		g.Go(func() error {
			if c.stopped.Load() {
				c.record(e, outcome{rateLimited: true})
				return nil
			}
			c.record(e, fn(gCtx, e))
			return nil
		})
	}
	g.Wait()
}

func (c *cycle) record(e storage.Entity, o outcome) {
	if errors.Is(o.err, ratelimit.ErrDailyLimit) {
		o.err = nil
		o.rateLimited = true
	}
	if o.rateLimited && c.stopped.CompareAndSwap(false, true) {
		c.logger.Warn("daily call limit reached, skipping remaining entities", "entity", e.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.summary
	s.Inserted += o.inserted
	s.Duplicates += o.duplicates
	s.Rejected += o.rejected
	switch {
	case o.rateLimited:
		s.RateLimited++
	case o.err != nil:
		s.Failed++
		s.Failures = append(s.Failures, EntityFailure{
			EntityID: e.ID,
			Status:   source.StatusOf(0, o.err).String(),
			Error:    o.err.Error(),
		})
		c.logger.Warn("entity collection failed", "entity", e.ID, "error", o.err)
	default:
		s.Succeeded++
	}
}

// finish stamps the summary and persists it. A failure to save is logged;
// the summary is still returned.
func (c *cycle) finish(processed, skippedFresh int, runs RunStore) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Processed = processed
	c.summary.SkippedFresh = skippedFresh
	c.summary.FinishedAt = c.opts.Now().UTC()

	if runs != nil {
		if err := runs.SaveRun(c.summary.Run()); err != nil {
			c.logger.Error("saving run summary failed", "run_id", c.summary.RunID, "error", err)
		}
	}
	c.logger.Info("collection finished",
		"kind", c.summary.Kind,
		"processed", c.summary.Processed,
		"succeeded", c.summary.Succeeded,
		"skipped_fresh", c.summary.SkippedFresh,
		"failed", c.summary.Failed,
		"rejected", c.summary.Rejected,
		"rate_limited", c.summary.RateLimited,
		"inserted", c.summary.Inserted,
	)
	return c.summary
}

func partialFailure(what string, failed, total int) error {
	return fmt.Errorf("%d of %d %s failed to write", failed, total, what)
}
