package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/quality"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

const (
	bodyEarnings = "삼성전자가 올해 1분기 연결 기준 영업이익이 전년 동기 대비 크게 증가했다고 발표했다. " +
		"반도체 부문의 수요 회복과 메모리 가격 상승이 실적 개선을 이끌었다. " +
		"회사는 하반기에도 인공지능 서버용 고대역폭 메모리 공급을 확대할 계획이라고 밝혔다."
	bodySupply = "삼성전자는 북미 고객사와 차세대 파운드리 공정 장기 공급 계약을 체결했다고 공시했다. " +
		"증권가는 이번 계약으로 비메모리 사업의 가동률이 빠르게 회복될 것으로 내다봤다. " +
		"계약 규모는 수조 원대로 추정되며 구체적인 조건은 공개되지 않았다."
)

var newsToday = freshness.NewDate(2024, 6, 1)

func publishedDaysAgo(n int) time.Time {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	items   []source.NewsItem
	err     error
}

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]source.NewsItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

type fakeContent map[string]string

func (f fakeContent) FetchContent(ctx context.Context, url string) (string, error) {
	body, ok := f[url]
	if !ok {
		return "", source.NewPermanent("fake", "fetch", errors.New("404"))
	}
	return body, nil
}

func newsOptions() NewsOptions {
	return NewsOptions{Options: testOptions(), MaxPerQuery: 30, MaxPerEntity: 50, WindowDays: 4, Loc: time.UTC}
}

func TestNewsCollector_Run(t *testing.T) {
	store := openTestStore(t)
	search := &fakeSearch{items: []source.NewsItem{
		{Title: "삼성전자 1분기 영업이익 급증", URL: "https://news.example.com/1", Snippet: "삼성전자 실적", Source: "연합뉴스", PublishedAt: publishedDaysAgo(1)},
		{Title: "삼성전자 파운드리 장기 공급 계약 체결", URL: "https://news.example.com/2", Snippet: "공급 계약", Source: "한국경제", PublishedAt: publishedDaysAgo(2)},
		{Title: "삼성전자 실적 발표 재탕 기사입니다", URL: "https://news.example.com/3", Snippet: "재탕", Source: "연합뉴스", PublishedAt: publishedDaysAgo(2)},
		{Title: "날씨 맑고 선선한 주말 나들이", URL: "https://news.example.com/4", Snippet: "전국 맑음", Source: "연합뉴스", PublishedAt: publishedDaysAgo(1)},
		{Title: "삼성전자 지난주 주가 동향 정리", URL: "https://news.example.com/5", Snippet: "지난주", Source: "연합뉴스", PublishedAt: publishedDaysAgo(9)},
	}}
	content := fakeContent{
		"https://news.example.com/1": bodyEarnings,
		"https://news.example.com/2": bodySupply,
		"https://news.example.com/3": bodyEarnings,
	}
	c := NewNewsCollector(search, content, quality.New(quality.Config{}), sink.New(store), store, newsOptions())

	sum, err := c.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자")}, newsToday)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(search.queries) != 4 {
		t.Errorf("ran %d queries, want 4: %v", len(search.queries), search.queries)
	}
	if sum.Succeeded != 1 || sum.Inserted != 2 || sum.Rejected != 1 {
		t.Errorf("summary = %+v, want 2 inserted and the copied body rejected", sum)
	}

	stored, err := store.ListNews("005930", 10, 0)
	if err != nil {
		t.Fatalf("ListNews: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d articles, want 2", len(stored))
	}
	for _, a := range stored {
		if a.QualityScore < 70 || a.Body == "" || a.EntityName != "삼성전자" {
			t.Errorf("stored article = %+v", a)
		}
	}

	counts, _ := store.JobCounts(storage.JobNewsSentiment)
	if counts["pending"] != 2 {
		t.Errorf("pending sentiment jobs = %d, want 2", counts["pending"])
	}

	runs, _ := store.ListRuns(KindNews, 1)
	if len(runs) != 1 || runs[0].Rejected != 1 {
		t.Errorf("stored run = %+v", runs)
	}
}

func TestNewsCollector_RerunSkipsStored(t *testing.T) {
	store := openTestStore(t)
	search := &fakeSearch{items: []source.NewsItem{
		{Title: "삼성전자 1분기 영업이익 급증", URL: "https://news.example.com/1", Source: "연합뉴스", PublishedAt: publishedDaysAgo(1)},
	}}
	content := fakeContent{"https://news.example.com/1": bodyEarnings}
	sk := sink.New(store)

	first := NewNewsCollector(search, content, quality.New(quality.Config{}), sk, store, newsOptions())
	if sum, _ := first.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자")}, newsToday); sum.Inserted != 1 {
		t.Fatalf("first run inserted %d, want 1", sum.Inserted)
	}

	// A later process starts with empty dedup caches; the URL key still holds.
	second := NewNewsCollector(search, content, quality.New(quality.Config{}), sk, store, newsOptions())
	sum, _ := second.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자")}, newsToday)
	if sum.Inserted != 0 || sum.Duplicates != 1 {
		t.Errorf("second run = %+v, want 1 duplicate", sum)
	}
}

func TestNewsCollector_SnippetFallback(t *testing.T) {
	store := openTestStore(t)
	search := &fakeSearch{items: []source.NewsItem{
		{Title: "삼성전자 1분기 영업이익 급증", URL: "https://news.example.com/1", Snippet: bodyEarnings, Source: "연합뉴스", PublishedAt: publishedDaysAgo(1)},
	}}
	c := NewNewsCollector(search, fakeContent{}, quality.New(quality.Config{}), sink.New(store), store, newsOptions())

	sum, err := c.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자")}, newsToday)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Inserted != 1 {
		t.Fatalf("summary = %+v, want the snippet-bodied article stored", sum)
	}
	a, err := store.GetNews("https://news.example.com/1")
	if err != nil {
		t.Fatalf("GetNews: %v", err)
	}
	if a.Body != bodyEarnings {
		t.Errorf("body = %q, want snippet", a.Body)
	}
}

func TestNewsCollector_PerEntityCap(t *testing.T) {
	store := openTestStore(t)
	var items []source.NewsItem
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, source.NewsItem{Title: "삼성전자 소식 " + u, URL: "https://news.example.com/" + u, PublishedAt: publishedDaysAgo(1)})
	}
	search := &fakeSearch{items: items}
	opts := newsOptions()
	opts.MaxPerQuery = 2
	opts.MaxPerEntity = 3
	c := NewNewsCollector(search, nil, quality.New(quality.Config{}), sink.New(store), store, opts)

	sum, _ := c.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자")}, newsToday)
	// Every query returns the same first two links, so only two distinct
	// candidates exist and all four queries run.
	if got := sum.Rejected + sum.Inserted; got != 2 {
		t.Errorf("evaluated %d candidates, want 2", got)
	}
	if len(search.queries) != 4 {
		t.Errorf("ran %d queries, want 4", len(search.queries))
	}
}

func TestNewsCollector_SearchFailure(t *testing.T) {
	store := openTestStore(t)
	search := &fakeSearch{err: source.NewPermanent("fake", "search", errors.New("401"))}
	c := NewNewsCollector(search, nil, quality.New(quality.Config{}), sink.New(store), store, newsOptions())

	sum, err := c.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자"), stock("000660", "SK하이닉스")}, newsToday)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 2 || len(sum.Failures) != 2 {
		t.Errorf("summary = %+v, want 2 failed", sum)
	}
}

func TestNewsCollector_DailyLimit(t *testing.T) {
	store := openTestStore(t)
	search := &fakeSearch{err: ratelimit.ErrDailyLimit}
	opts := newsOptions()
	opts.Workers = 1
	c := NewNewsCollector(search, nil, quality.New(quality.Config{}), sink.New(store), store, opts)

	sum, _ := c.Run(context.Background(), []storage.Entity{stock("005930", "삼성전자"), stock("000660", "SK하이닉스")}, newsToday)
	if sum.RateLimited != 2 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 2 rate limited", sum)
	}
	if len(search.queries) != 1 {
		t.Errorf("ran %d queries, want 1", len(search.queries))
	}
}

func TestNewsCollector_InvalidToday(t *testing.T) {
	c := NewNewsCollector(&fakeSearch{}, nil, quality.New(quality.Config{}), sink.New(openTestStore(t)), nil, newsOptions())
	if _, err := c.Run(context.Background(), nil, freshness.Date{}); err == nil {
		t.Error("expected error for zero reference date")
	}
}
