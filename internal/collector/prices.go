package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

// PriceStore is what the price collector reads and writes besides the sink.
type PriceStore interface {
	freshness.MetadataLookup
	UpsertCollectionMetadata(m storage.CollectionMetadata) error
	RunStore
}

// PriceCollector brings daily bars up to date for a batch of entities.
type PriceCollector struct {
	store  PriceStore
	source source.MarketDataSource
	sink   *sink.Sink
	gate   *freshness.Gate
	opts   Options
	logger *slog.Logger
}

func NewPriceCollector(store PriceStore, src source.MarketDataSource, sk *sink.Sink, gate *freshness.Gate, opts Options) *PriceCollector {
	return &PriceCollector{
		store:  store,
		source: src,
		sink:   sk,
		gate:   gate,
		opts:   opts.withDefaults(),
		logger: slog.Default().With("component", "collector", "kind", KindPrices),
	}
}

// Run fetches every stale entity's missing range and records progress. Fresh
// entities are skipped. It fails only if the batch cannot be partitioned.
func (c *PriceCollector) Run(ctx context.Context, entities []storage.Entity, today freshness.Date) (Summary, error) {
	cyc := newCycle(KindPrices, c.opts, c.logger)
	part, err := c.gate.Partition(ctx, entities, today)
	if err != nil {
		return Summary{}, fmt.Errorf("partitioning entities: %w", err)
	}

	work := make(map[string]freshness.Work, len(part.NeedsFetch))
	stale := make([]storage.Entity, 0, len(part.NeedsFetch))
	for _, w := range part.NeedsFetch {
		work[w.Entity.ID] = w
		stale = append(stale, w.Entity)
	}

	cyc.each(ctx, stale, func(ctx context.Context, e storage.Entity) outcome {
		w := work[e.ID]
		c.logger.Debug("fetching prices", "entity", e.ID, "start", w.Range.Start, "end", w.Range.End, "reason", w.Range.Reason)
		return c.collect(ctx, e, w.Range.Start, w.Range.End)
	})
	return cyc.finish(len(entities), len(part.AlreadyFresh), c.store), nil
}

// RepairPrices refetches entity between from and to and overwrites stored rows
// that differ. Changed fields are logged.
func (c *PriceCollector) RepairPrices(ctx context.Context, entity storage.Entity, from, to freshness.Date) (sink.Report, error) {
	if to.Before(from) {
		return sink.Report{}, fmt.Errorf("repair range %s..%s is empty", from, to)
	}
	bars, err := source.Retry(ctx, c.opts.Retry, func(ctx context.Context) ([]source.Bar, error) {
		return c.source.FetchPrices(ctx, entity, from, to)
	})
	if err != nil {
		return sink.Report{}, fmt.Errorf("fetching %s: %w", entity.ID, err)
	}
	rep := c.sink.RepairPrices(ctx, entity.ID, records(entity.ID, bars))
	return rep, c.advance(entity.ID, rep)
}

func (c *PriceCollector) collect(ctx context.Context, e storage.Entity, start, end freshness.Date) outcome {
	bars, err := source.Retry(ctx, c.opts.Retry, func(ctx context.Context) ([]source.Bar, error) {
		return c.source.FetchPrices(ctx, e, start, end)
	})
	if err != nil {
		return failed(err)
	}

	rows := records(e.ID, bars)
	rep := c.sink.WritePrices(ctx, e.ID, rows)
	o := outcome{inserted: rep.Inserted, duplicates: rep.Skipped}
	if err := c.advance(e.ID, rep); err != nil {
		o.err = err
	}
	if rep.Failed > 0 {
		o.err = partialFailure("price rows", rep.Failed, len(rows))
	}
	return o
}

// advance records a collection for entityID. The observed date moves to the
// newest row stored before the first failure, so the next cycle refetches
// from the failed row onward.
func (c *PriceCollector) advance(entityID string, rep sink.Report) error {
	m := storage.CollectionMetadata{
		EntityID:                entityID,
		LastCollectionTimestamp: c.opts.Now().UTC(),
	}
	if !rep.Contiguous.IsZero() {
		contiguous := rep.Contiguous
		m.LastObservedDate = &contiguous
	}
	if err := c.store.UpsertCollectionMetadata(m); err != nil {
		return fmt.Errorf("updating collection metadata for %s: %w", entityID, err)
	}
	return nil
}

func records(entityID string, bars []source.Bar) []storage.PriceRecord {
	rows := make([]storage.PriceRecord, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, b.Record(entityID))
	}
	return rows
}

// RepairRange returns the span a repair pass covers when only a number of
// trailing days is given.
func RepairRange(today freshness.Date, days int) (freshness.Date, freshness.Date) {
	if days < 1 {
		days = 1
	}
	return today.AddDays(-(days - 1)), today
}
