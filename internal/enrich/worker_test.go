package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/financevibe/fdv/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, jobID, url, title string) {
	t.Helper()
	a := storage.NewsArticle{
		URL:          url,
		EntityID:     "005930",
		EntityName:   "삼성전자",
		Title:        title,
		Body:         "본문",
		SourceLabel:  "연합뉴스",
		PublishedAt:  time.Date(2024, 5, 31, 9, 0, 0, 0, time.UTC),
		QualityScore: 80,
		CollectedAt:  time.Now().UTC(),
	}
	if _, err := store.InsertNews(a); err != nil {
		t.Fatalf("InsertNews: %v", err)
	}
	payload, _ := json.Marshal(storage.SentimentPayload{URL: url})
	job := storage.Job{
		ID:          jobID,
		Type:        storage.JobNewsSentiment,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", jobID, err)
	}
	return status, attempts
}

// flakyStore fails the first failures sentiment writes.
type flakyStore struct {
	*storage.Store
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) UpdateNewsSentiment(url string, score float64) error {
	if n := f.calls.Add(1); n <= f.failures {
		return fmt.Errorf("transient error %d", n)
	}
	return f.Store.UpdateNewsSentiment(url, score)
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-1", "https://news.example.com/1", "삼성전자 적자전환 충격")

	w := NewWorker(store, nil, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	a, err := store.GetNews("https://news.example.com/1")
	if err != nil {
		t.Fatalf("GetNews: %v", err)
	}
	if !a.SentimentScore.Valid || a.SentimentScore.Float64 != -1 {
		t.Errorf("sentiment = %+v, want -1", a.SentimentScore)
	}
	if status, _ := jobStatus(t, store, "job-1"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	w := NewWorker(openTestStore(t), nil, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := &flakyStore{Store: openTestStore(t), failures: 2}
	enqueueTestJob(t, store.Store, "job-r", "https://news.example.com/r", "삼성전자 계약체결")

	w := NewWorker(store, nil, 0)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		status, attempts := jobStatus(t, store.Store, "job-r")
		if status != "pending" || attempts != i {
			t.Errorf("after fail %d: status=%q attempts=%d, want pending/%d", i, status, attempts, i)
		}
		resetRunAfter(t, store.Store, "job-r")
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3 error: %v", err)
	}
	if status, _ := jobStatus(t, store.Store, "job-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
	a, _ := store.GetNews("https://news.example.com/r")
	if !a.SentimentScore.Valid || a.SentimentScore.Float64 != 1 {
		t.Errorf("sentiment = %+v, want 1", a.SentimentScore)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := &flakyStore{Store: openTestStore(t), failures: 100}
	enqueueTestJob(t, store.Store, "job-m", "https://news.example.com/m", "제목")

	w := NewWorker(store, nil, 0)
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store.Store, "job-m")
		}
	}

	if status, _ := jobStatus(t, store.Store, "job-m"); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
	a, _ := store.GetNews("https://news.example.com/m")
	if a.SentimentScore.Valid {
		t.Errorf("sentiment written despite failures: %+v", a.SentimentScore)
	}
}

func TestWorker_MissingArticleCompletes(t *testing.T) {
	store := openTestStore(t)
	payload, _ := json.Marshal(storage.SentimentPayload{URL: "https://news.example.com/gone"})
	if err := store.EnqueueJob(storage.Job{ID: "job-g", Type: storage.JobNewsSentiment, PayloadJSON: string(payload)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if _, err := NewWorker(store, nil, 0).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if status, _ := jobStatus(t, store, "job-g"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_Drain(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://news.example.com/%d", i)
		enqueueTestJob(t, store, fmt.Sprintf("job-%d", i), url, "삼성전자 영업이익 증가")
	}

	n, err := NewWorker(store, nil, 0).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 5 {
		t.Errorf("drained %d jobs, want 5", n)
	}
	counts, _ := store.JobCounts(storage.JobNewsSentiment)
	if counts["completed"] != 5 {
		t.Errorf("counts = %v, want 5 completed", counts)
	}
}
