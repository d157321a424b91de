package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/financevibe/fdv/internal/storage"
)

// JobStore abstracts the job queue and the article rows the worker scores.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetNews(url string) (storage.NewsArticle, error)
	UpdateNewsSentiment(url string, score float64) error
}

// Scorer rates article text in [-1, 1].
type Scorer interface {
	Score(text string) float64
}

// Worker processes news_sentiment jobs from the SQLite job queue. It is the
// only writer of an article's sentiment score.
type Worker struct {
	store  JobStore
	scorer Scorer
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. A nil scorer uses DefaultLexicon.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, scorer Scorer, pollInterval time.Duration) *Worker {
	if scorer == nil {
		scorer = DefaultLexicon()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		scorer: scorer,
		poll:   pollInterval,
		logger: slog.Default().With("component", "enrich"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// Drain processes runnable jobs until none is left and returns how many
// were handled.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		done, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !done {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// RunOnce claims and processes a single news_sentiment job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobNewsSentiment})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var payload storage.SentimentPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.URL == "" {
		return errors.New("payload has no article url")
	}

	a, err := w.store.GetNews(payload.URL)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing left to score.
		w.logger.Warn("article gone", "job_id", job.ID, "url", payload.URL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading article %s: %w", payload.URL, err)
	}

	text := a.Title + " " + a.Snippet + " " + a.Body
	score := w.scorer.Score(text)
	if err := w.store.UpdateNewsSentiment(a.URL, score); err != nil {
		return fmt.Errorf("updating sentiment: %w", err)
	}
	w.logger.Debug("article scored", "url", a.URL, "entity", a.EntityID, "score", score)
	return nil
}
