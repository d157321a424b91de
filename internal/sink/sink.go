// Package sink persists collected records idempotently by natural key and
// reports per-record outcomes.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/financevibe/fdv/internal/storage"
)

// Store is the subset of the relational store the sink writes through.
type Store interface {
	InsertPrice(p storage.PriceRecord) (bool, error)
	ReplacePrice(p storage.PriceRecord) (*storage.PriceRecord, error)
	LastPriceBefore(entityID string, date time.Time) (storage.PriceRecord, error)
	InsertNews(a storage.NewsArticle) (bool, error)
	InsertDisclosure(d storage.Disclosure) (bool, error)
	InsertFinancialLine(l storage.FinancialLine) (bool, error)
	EnqueueJob(job storage.Job) error
}

// Outcome is what happened to one record.
type Outcome int

const (
	Inserted Outcome = iota
	Skipped          // natural key already present
	Replaced         // repair overwrote a differing row
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	case Replaced:
		return "replaced"
	default:
		return "failed"
	}
}

// Result is the outcome for the record with natural key Key.
type Result struct {
	Key     string
	Outcome Outcome
	Err     error
}

// Report aggregates the outcomes of one write call.
type Report struct {
	Inserted int
	Skipped  int
	Replaced int
	Failed   int
	Results  []Result
	// Latest is the newest price date known to be stored after the call. It is
	// zero when nothing was stored.
	Latest time.Time
	// Contiguous is the newest price date stored before the first failed row.
	// It equals Latest when nothing failed.
	Contiguous time.Time
}

func (r *Report) add(key string, o Outcome, err error) {
	switch o {
	case Inserted:
		r.Inserted++
	case Skipped:
		r.Skipped++
	case Replaced:
		r.Replaced++
	default:
		r.Failed++
	}
	r.Results = append(r.Results, Result{Key: key, Outcome: o, Err: err})
}

// Merge folds o into r.
func (r *Report) Merge(o Report) {
	if r.Failed == 0 && o.Contiguous.After(r.Contiguous) {
		r.Contiguous = o.Contiguous
	}
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Replaced += o.Replaced
	r.Failed += o.Failed
	r.Results = append(r.Results, o.Results...)
	if o.Latest.After(r.Latest) {
		r.Latest = o.Latest
	}
}

// stored moves the report's date marks past a row that was written.
func (r *Report) stored(d time.Time) {
	if d.After(r.Latest) {
		r.Latest = d
	}
	if r.Failed == 0 && d.After(r.Contiguous) {
		r.Contiguous = d
	}
}

// Sink writes through a Store. A failed record never aborts its batch.
type Sink struct {
	store  Store
	logger *slog.Logger
}

func New(store Store) *Sink {
	return &Sink{
		store:  store,
		logger: slog.Default().With("component", "sink"),
	}
}

func priceKey(entityID string, d time.Time) string {
	return entityID + "/" + d.Format(time.DateOnly)
}

// WritePrices inserts records for entityID in date order, skipping dates that
// are already stored. Each record's change is derived from the close of the
// row before it; the first record looks its predecessor up in the store.
func (s *Sink) WritePrices(ctx context.Context, entityID string, records []storage.PriceRecord) Report {
	var rep Report
	sorted := s.prepare(entityID, records)
	for i, p := range sorted {
		if err := ctx.Err(); err != nil {
			s.abandon(&rep, entityID, sorted[i:], err)
			break
		}
		inserted, err := s.store.InsertPrice(p)
		key := priceKey(entityID, p.Date)
		switch {
		case err != nil:
			s.logger.Warn("price write failed", "entity", entityID, "date", p.Date.Format(time.DateOnly), "error", err)
			rep.add(key, Failed, err)
			continue
		case inserted:
			rep.add(key, Inserted, nil)
		default:
			rep.add(key, Skipped, nil)
		}
		rep.stored(p.Date)
	}
	return rep
}

// RepairPrices overwrites stored rows with records and logs every field that
// changed. Rows that already match are reported as skipped.
func (s *Sink) RepairPrices(ctx context.Context, entityID string, records []storage.PriceRecord) Report {
	var rep Report
	sorted := s.prepare(entityID, records)
	for i, p := range sorted {
		if err := ctx.Err(); err != nil {
			s.abandon(&rep, entityID, sorted[i:], err)
			break
		}
		key := priceKey(entityID, p.Date)
		previous, err := s.store.ReplacePrice(p)
		if err != nil {
			s.logger.Warn("price repair failed", "entity", entityID, "date", p.Date.Format(time.DateOnly), "error", err)
			rep.add(key, Failed, err)
			continue
		}
		rep.stored(p.Date)
		if previous == nil {
			s.logger.Info("repair inserted missing row", "entity", entityID, "date", p.Date.Format(time.DateOnly))
			rep.add(key, Inserted, nil)
			continue
		}
		changes := Diff(*previous, p)
		if len(changes) == 0 {
			rep.add(key, Skipped, nil)
			continue
		}
		for _, c := range changes {
			s.logger.Info("repaired field", "entity", entityID, "date", p.Date.Format(time.DateOnly),
				"field", c.Field, "old", c.Old, "new", c.New)
		}
		rep.add(key, Replaced, nil)
	}
	return rep
}

// prepare sorts a copy of records by date, keeping the last record for a
// repeated date, and fills in the derived change.
func (s *Sink) prepare(entityID string, records []storage.PriceRecord) []storage.PriceRecord {
	byDate := make(map[string]storage.PriceRecord, len(records))
	for _, p := range records {
		p.EntityID = entityID
		byDate[p.Date.Format(time.DateOnly)] = p
	}
	sorted := make([]storage.PriceRecord, 0, len(byDate))
	for _, p := range byDate {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	if len(sorted) == 0 {
		return sorted
	}

	var prevClose decimal.NullDecimal
	prev, err := s.store.LastPriceBefore(entityID, sorted[0].Date)
	switch {
	case err == nil:
		prevClose = prev.Close
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("reading previous close failed", "entity", entityID, "error", err)
	}

	for i := range sorted {
		sorted[i].ChangePct = ChangePct(prevClose, sorted[i].Close)
		if sorted[i].Close.Valid {
			prevClose = sorted[i].Close
		}
	}
	return sorted
}

func (s *Sink) abandon(rep *Report, entityID string, rest []storage.PriceRecord, err error) {
	for _, p := range rest {
		rep.add(priceKey(entityID, p.Date), Failed, err)
	}
}

var hundred = decimal.NewFromInt(100)

// ChangePct returns the percentage change from prev to cur, rounded to four
// places. It is null when either close is missing or prev is zero.
func ChangePct(prev, cur decimal.NullDecimal) decimal.NullDecimal {
	if !prev.Valid || !cur.Valid || prev.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := cur.Decimal.Sub(prev.Decimal).Div(prev.Decimal).Mul(hundred).Round(4)
	return decimal.NewNullDecimal(pct)
}

// Change describes one field a repair overwrote.
type Change struct {
	Field string
	Old   string
	New   string
}

// Diff lists the fields that differ between before and after.
func Diff(before, after storage.PriceRecord) []Change {
	var changes []Change
	decimals := []struct {
		field         string
		before, after decimal.NullDecimal
	}{
		{"open", before.Open, after.Open},
		{"high", before.High, after.High},
		{"low", before.Low, after.Low},
		{"close", before.Close, after.Close},
		{"change_pct", before.ChangePct, after.ChangePct},
	}
	for _, d := range decimals {
		if !equalDecimal(d.before, d.after) {
			changes = append(changes, Change{Field: d.field, Old: formatDecimal(d.before), New: formatDecimal(d.after)})
		}
	}
	if before.Volume != after.Volume {
		changes = append(changes, Change{Field: "volume", Old: formatVolume(before.Volume), New: formatVolume(after.Volume)})
	}
	return changes
}

func equalDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "null"
	}
	return d.Decimal.String()
}

func formatVolume(v sql.NullInt64) string {
	if !v.Valid {
		return "null"
	}
	return fmt.Sprint(v.Int64)
}

// WriteNews inserts accepted articles keyed by URL and queues each new one for
// sentiment scoring. A queueing failure leaves the article stored.
func (s *Sink) WriteNews(ctx context.Context, articles []storage.NewsArticle) Report {
	var rep Report
	for i, a := range articles {
		if err := ctx.Err(); err != nil {
			for _, rest := range articles[i:] {
				rep.add(rest.URL, Failed, err)
			}
			break
		}
		if a.CollectedAt.IsZero() {
			a.CollectedAt = time.Now().UTC()
		}
		inserted, err := s.store.InsertNews(a)
		switch {
		case err != nil:
			s.logger.Warn("news write failed", "url", a.URL, "error", err)
			rep.add(a.URL, Failed, err)
			continue
		case !inserted:
			rep.add(a.URL, Skipped, nil)
			continue
		}
		rep.add(a.URL, Inserted, nil)

		payload, _ := json.Marshal(storage.SentimentPayload{URL: a.URL})
		if err := s.store.EnqueueJob(storage.Job{Type: storage.JobNewsSentiment, PayloadJSON: string(payload)}); err != nil {
			s.logger.Warn("queueing sentiment job failed", "url", a.URL, "error", err)
		}
	}
	return rep
}

// WriteDisclosures inserts filings keyed by receipt number.
func (s *Sink) WriteDisclosures(ctx context.Context, disclosures []storage.Disclosure) Report {
	var rep Report
	for i, d := range disclosures {
		if err := ctx.Err(); err != nil {
			for _, rest := range disclosures[i:] {
				rep.add(rest.ReceiptNo, Failed, err)
			}
			break
		}
		inserted, err := s.store.InsertDisclosure(d)
		s.record(&rep, d.ReceiptNo, inserted, err)
	}
	return rep
}

// WriteFinancials inserts statement lines keyed by filing, statement, and account.
func (s *Sink) WriteFinancials(ctx context.Context, lines []storage.FinancialLine) Report {
	var rep Report
	for i, l := range lines {
		if err := ctx.Err(); err != nil {
			for _, rest := range lines[i:] {
				rep.add(lineKey(rest), Failed, err)
			}
			break
		}
		inserted, err := s.store.InsertFinancialLine(l)
		s.record(&rep, lineKey(l), inserted, err)
	}
	return rep
}

func lineKey(l storage.FinancialLine) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", l.ReceiptNo, l.StatementDiv, l.FSDiv, l.AccountName, l.Ord)
}

func (s *Sink) record(rep *Report, key string, inserted bool, err error) {
	switch {
	case err != nil:
		s.logger.Warn("record write failed", "key", key, "error", err)
		rep.add(key, Failed, err)
	case inserted:
		rep.add(key, Inserted, nil)
	default:
		rep.add(key, Skipped, nil)
	}
}
