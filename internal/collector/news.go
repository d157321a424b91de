package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/quality"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/source/news"
	"github.com/financevibe/fdv/internal/storage"
)

// NewsOptions bounds how much news is gathered per entity.
type NewsOptions struct {
	Options
	MaxPerQuery  int
	MaxPerEntity int
	WindowDays   int
	Loc          *time.Location
}

func (o NewsOptions) withDefaults() NewsOptions {
	o.Options = o.Options.withDefaults()
	if o.MaxPerQuery <= 0 {
		o.MaxPerQuery = 30
	}
	if o.MaxPerEntity <= 0 {
		o.MaxPerEntity = 50
	}
	if o.WindowDays <= 0 {
		o.WindowDays = 4
	}
	if o.Loc == nil {
		o.Loc = time.UTC
	}
	return o
}

// NewsCollector searches news for each entity, scores every candidate with the
// quality filter, and stores the accepted ones.
type NewsCollector struct {
	search  source.NewsScrapeSource
	content source.ContentFetcher
	filter  *quality.Filter
	sink    *sink.Sink
	runs    RunStore
	opts    NewsOptions
	logger  *slog.Logger
}

// NewNewsCollector creates a collector. content may be nil, in which case
// search snippets are scored as the article body.
func NewNewsCollector(search source.NewsScrapeSource, content source.ContentFetcher, filter *quality.Filter, sk *sink.Sink, runs RunStore, opts NewsOptions) *NewsCollector {
	return &NewsCollector{
		search:  search,
		content: content,
		filter:  filter,
		sink:    sk,
		runs:    runs,
		opts:    opts.withDefaults(),
		logger:  slog.Default().With("component", "collector", "kind", KindNews),
	}
}

// Run collects recent news for every entity. News has no freshness gate: each
// run searches the trailing window and relies on URL keys for idempotence.
func (c *NewsCollector) Run(ctx context.Context, entities []storage.Entity, today freshness.Date) (Summary, error) {
	if !today.Valid() {
		return Summary{}, fmt.Errorf("invalid reference date %v", today)
	}
	cyc := newCycle(KindNews, c.opts.Options, c.logger)
	window := news.Window{Today: today, Days: c.opts.WindowDays, Loc: c.opts.Loc}
	cyc.each(ctx, entities, func(ctx context.Context, e storage.Entity) outcome {
		return c.collect(ctx, e, window)
	})
	return cyc.finish(len(entities), 0, c.runs), nil
}

func (c *NewsCollector) collect(ctx context.Context, e storage.Entity, window news.Window) outcome {
	candidates, err := c.gather(ctx, e, window)
	if err != nil {
		return failed(err)
	}

	var o outcome
	var accepted []storage.NewsArticle
	for _, item := range candidates {
		body := c.body(ctx, item)
		v := c.filter.Evaluate(quality.Document{
			Title:       item.Title,
			Body:        body,
			URL:         item.URL,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
		})
		if !v.Accepted {
			o.rejected++
			c.logger.Debug("article rejected", "entity", e.ID, "url", item.URL, "score", v.Score, "reasons", v.Reasons)
			continue
		}
		accepted = append(accepted, storage.NewsArticle{
			URL:          item.URL,
			EntityID:     e.ID,
			EntityName:   e.Name,
			Title:        item.Title,
			Body:         body,
			Snippet:      item.Snippet,
			SourceLabel:  item.Source,
			PublishedAt:  item.PublishedAt,
			QualityScore: v.Score,
		})
	}

	rep := c.sink.WriteNews(ctx, accepted)
	o.inserted = rep.Inserted
	o.duplicates = rep.Skipped
	if rep.Failed > 0 {
		o.err = partialFailure("articles", rep.Failed, len(accepted))
	}
	return o
}

// gather runs every search strategy for e and returns the distinct, recent,
// relevant hits up to the per-entity cap. It fails only when no query
// succeeded; a daily-limit stop is returned as is.
func (c *NewsCollector) gather(ctx context.Context, e storage.Entity, window news.Window) ([]source.NewsItem, error) {
	seen := make(map[string]struct{})
	var candidates []source.NewsItem
	var lastErr error
	succeeded := 0

	for _, q := range news.DefaultQueries(e.Name) {
		if len(candidates) >= c.opts.MaxPerEntity {
			break
		}
		items, err := source.Retry(ctx, c.opts.Retry, func(ctx context.Context) ([]source.NewsItem, error) {
			return c.search.Search(ctx, q, c.opts.MaxPerQuery)
		})
		if errors.Is(err, ratelimit.ErrDailyLimit) {
			if succeeded == 0 {
				return nil, err
			}
			break
		}
		if err != nil {
			lastErr = err
			c.logger.Debug("news query failed", "entity", e.ID, "query", q, "error", err)
			continue
		}
		succeeded++

		for _, it := range items {
			if _, dup := seen[it.URL]; dup {
				continue
			}
			seen[it.URL] = struct{}{}
			if !window.Contains(it.PublishedAt) || !news.Relevant(it.Title, it.Snippet, e.Name, e.ID) {
				continue
			}
			candidates = append(candidates, it)
			if len(candidates) >= c.opts.MaxPerEntity {
				break
			}
		}
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return candidates, nil
}

// body returns the extracted article text, falling back to the snippet when
// extraction fails or finds nothing.
func (c *NewsCollector) body(ctx context.Context, item source.NewsItem) string {
	if c.content == nil {
		return item.Snippet
	}
	text, err := c.content.FetchContent(ctx, item.URL)
	if err != nil {
		c.logger.Debug("content extraction failed", "url", item.URL, "error", err)
		return item.Snippet
	}
	if text == "" {
		return item.Snippet
	}
	return text
}
