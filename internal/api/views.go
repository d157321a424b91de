package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/storage"
)

// The storage models carry no JSON tags; these views fix the wire shape.

type entityView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Market   string `json:"market"`
	Sector   string `json:"sector,omitempty"`
	CorpCode string `json:"corp_code,omitempty"`
}

func viewEntity(e storage.Entity) entityView {
	return entityView{ID: e.ID, Name: e.Name, Market: e.Market, Sector: e.Sector, CorpCode: e.CorpCode}
}

type metadataView struct {
	EntityID                string          `json:"entity_id"`
	LastObservedDate        *freshness.Date `json:"last_observed_date"`
	LastCollectionTimestamp *time.Time      `json:"last_collection_timestamp"`
	Freshness               freshness.Range `json:"freshness"`
}

func viewMetadata(entityID string, m *storage.CollectionMetadata, r freshness.Range) metadataView {
	v := metadataView{EntityID: entityID, Freshness: r}
	if m == nil {
		return v
	}
	if m.LastObservedDate != nil {
		d := freshness.DateOf(*m.LastObservedDate)
		v.LastObservedDate = &d
	}
	if !m.LastCollectionTimestamp.IsZero() {
		ts := m.LastCollectionTimestamp
		v.LastCollectionTimestamp = &ts
	}
	return v
}

type priceView struct {
	Date      freshness.Date      `json:"date"`
	Open      decimal.NullDecimal `json:"open"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	Close     decimal.NullDecimal `json:"close"`
	Volume    *int64              `json:"volume"`
	ChangePct decimal.NullDecimal `json:"change_pct"`
}

func viewPrice(p storage.PriceRecord) priceView {
	v := priceView{
		Date:      freshness.DateOf(p.Date),
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		ChangePct: p.ChangePct,
	}
	if p.Volume.Valid {
		n := p.Volume.Int64
		v.Volume = &n
	}
	return v
}

type newsView struct {
	URL            string     `json:"url"`
	EntityID       string     `json:"entity_id"`
	EntityName     string     `json:"entity_name"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet,omitempty"`
	Source         string     `json:"source"`
	PublishedAt    *time.Time `json:"published_at"`
	QualityScore   int        `json:"quality_score"`
	SentimentScore *float64   `json:"sentiment_score"`
	CollectedAt    time.Time  `json:"collected_at"`
}

func viewNews(a storage.NewsArticle) newsView {
	v := newsView{
		URL:          a.URL,
		EntityID:     a.EntityID,
		EntityName:   a.EntityName,
		Title:        a.Title,
		Snippet:      a.Snippet,
		Source:       a.SourceLabel,
		QualityScore: a.QualityScore,
		CollectedAt:  a.CollectedAt,
	}
	if !a.PublishedAt.IsZero() {
		t := a.PublishedAt
		v.PublishedAt = &t
	}
	if a.SentimentScore.Valid {
		s := a.SentimentScore.Float64
		v.SentimentScore = &s
	}
	return v
}

type runView struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Processed    int       `json:"processed"`
	Succeeded    int       `json:"succeeded"`
	SkippedFresh int       `json:"skipped_fresh"`
	Failed       int       `json:"failed"`
	Rejected     int       `json:"rejected"`
	RateLimited  int       `json:"rate_limited"`
	Inserted     int       `json:"inserted"`
	Duplicates   int       `json:"duplicates"`
}

func viewRun(r storage.Run) runView {
	return runView{
		ID:           r.ID,
		Kind:         r.Kind,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Processed:    r.Processed,
		Succeeded:    r.Succeeded,
		SkippedFresh: r.SkippedFresh,
		Failed:       r.Failed,
		Rejected:     r.Rejected,
		RateLimited:  r.RateLimited,
		Inserted:     r.Inserted,
		Duplicates:   r.Duplicates,
	}
}

func viewAll[T, V any](items []T, view func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, it := range items {
		out = append(out, view(it))
	}
	return out
}
