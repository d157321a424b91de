package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

// ErrNoCorpCode is reported for entities without a disclosure registry code.
var ErrNoCorpCode = source.NewPermanent("dart", "list", errors.New("entity has no corp code"))

// DisclosureOptions selects what the disclosure collector fetches besides the
// filing list.
type DisclosureOptions struct {
	Options
	// Years lists the business years whose annual statements are fetched.
	Years []string
}

// DisclosureCollector stores filings and annual financial statements.
type DisclosureCollector struct {
	source source.DisclosureDataSource
	sink   *sink.Sink
	runs   RunStore
	opts   DisclosureOptions
	logger *slog.Logger
}

func NewDisclosureCollector(src source.DisclosureDataSource, sk *sink.Sink, runs RunStore, opts DisclosureOptions) *DisclosureCollector {
	opts.Options = opts.Options.withDefaults()
	return &DisclosureCollector{
		source: src,
		sink:   sk,
		runs:   runs,
		opts:   opts,
		logger: slog.Default().With("component", "collector", "kind", KindDisclosures),
	}
}

// Run lists every entity's filings received between from and to inclusive.
func (c *DisclosureCollector) Run(ctx context.Context, entities []storage.Entity, from, to freshness.Date) (Summary, error) {
	if !from.Valid() || !to.Valid() || to.Before(from) {
		return Summary{}, fmt.Errorf("invalid disclosure range %v..%v", from, to)
	}
	cyc := newCycle(KindDisclosures, c.opts.Options, c.logger)
	cyc.each(ctx, entities, func(ctx context.Context, e storage.Entity) outcome {
		return c.collect(ctx, e, from, to)
	})
	return cyc.finish(len(entities), 0, c.runs), nil
}

func (c *DisclosureCollector) collect(ctx context.Context, e storage.Entity, from, to freshness.Date) outcome {
	if e.CorpCode == "" {
		return failed(ErrNoCorpCode)
	}

	filings, err := source.Retry(ctx, c.opts.Retry, func(ctx context.Context) ([]source.Filing, error) {
		return c.source.ListFilings(ctx, e.CorpCode, from, to)
	})
	if err != nil {
		return failed(err)
	}

	rows := make([]storage.Disclosure, 0, len(filings))
	for _, f := range filings {
		rows = append(rows, storage.Disclosure{
			ReceiptNo:   f.ReceiptNo,
			CorpCode:    f.CorpCode,
			CorpName:    f.CorpName,
			StockCode:   f.StockCode,
			ReportName:  f.ReportName,
			FilerName:   f.FilerName,
			ReceiptDate: f.ReceiptDate,
			Remark:      f.Remark,
		})
	}
	rep := c.sink.WriteDisclosures(ctx, rows)

	for _, year := range c.opts.Years {
		lines, err := source.Retry(ctx, c.opts.Retry, func(ctx context.Context) ([]source.StatementLine, error) {
			return c.source.FinancialStatements(ctx, e.CorpCode, year)
		})
		if err != nil {
			// Filings already written stay written.
			o := outcome{inserted: rep.Inserted, duplicates: rep.Skipped}
			o.err = fmt.Errorf("financial statements %s: %w", year, err)
			return o
		}
		rep.Merge(c.sink.WriteFinancials(ctx, statementRows(lines)))
	}

	o := outcome{inserted: rep.Inserted, duplicates: rep.Skipped}
	if rep.Failed > 0 {
		o.err = partialFailure("disclosure records", rep.Failed, len(rep.Results))
	}
	return o
}

func statementRows(lines []source.StatementLine) []storage.FinancialLine {
	rows := make([]storage.FinancialLine, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, storage.FinancialLine{
			ReceiptNo:     l.ReceiptNo,
			CorpCode:      l.CorpCode,
			BusinessYear:  l.BusinessYear,
			ReportCode:    l.ReportCode,
			StatementDiv:  l.StatementDiv,
			FSDiv:         l.FSDiv,
			AccountName:   l.AccountName,
			Ord:           l.Ord,
			CurrentAmount: l.CurrentAmount,
			PriorAmount:   l.PriorAmount,
			Currency:      l.Currency,
		})
	}
	return rows
}
