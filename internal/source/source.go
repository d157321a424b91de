// Package source defines the external data collaborators of the collectors
// and the error taxonomy they share.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/storage"
)

// ErrNoData marks a source answer that carried no rows. Clients turn it into
// an empty result before returning.
var ErrNoData = errors.New("no data")

// Kind classifies a source failure.
type Kind int

const (
	// Transient failures (timeouts, 5xx, throttling) are retried.
	Transient Kind = iota
	// Permanent failures (auth, malformed responses, unknown codes) are not.
	Permanent
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// NewRateLimited reports that the source refused the call because its daily
// quota is exhausted. The result matches ratelimit.ErrDailyLimit and is never
// retried.
func NewRateLimited(src, op string, err error) error {
	return &Error{Kind: Permanent, Source: src, Op: op, Err: fmt.Errorf("%w: %w", ratelimit.ErrDailyLimit, err)}
}

// Error is a classified failure from an external source.
type Error struct {
	Kind   Kind
	Source string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Source, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewTransient(src, op string, err error) error {
	return &Error{Kind: Transient, Source: src, Op: op, Err: err}
}

func NewPermanent(src, op string, err error) error {
	return &Error{Kind: Permanent, Source: src, Op: op, Err: err}
}

// IsTransient reports whether err is a source error worth retrying.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == Transient
}

// Status is the explicit outcome of a source call.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusTransient
	StatusPermanent
	// StatusRateLimited means the source's own daily quota is used up.
	StatusRateLimited
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusTransient:
		return "transient"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// StatusOf maps a call's row count and error to its outcome. A local or
// upstream daily limit is rate limited. Other errors that are not source
// errors, such as context cancellation, count as permanent.
func StatusOf(n int, err error) Status {
	switch {
	case err == nil && n == 0:
		return StatusEmpty
	case err == nil:
		return StatusOK
	case errors.Is(err, ratelimit.ErrDailyLimit):
		return StatusRateLimited
	case IsTransient(err):
		return StatusTransient
	default:
		return StatusPermanent
	}
}

// Bar is one daily OHLCV observation. Values the source omitted stay null.
type Bar struct {
	Date   freshness.Date
	Open   decimal.NullDecimal
	High   decimal.NullDecimal
	Low    decimal.NullDecimal
	Close  decimal.NullDecimal
	Volume sql.NullInt64
}

// Record converts b to a storage row for entityID. Change is left for the sink.
func (b Bar) Record(entityID string) storage.PriceRecord {
	return storage.PriceRecord{
		EntityID: entityID,
		Date:     b.Date.Time(),
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
	}
}

// Filing is one entry of a disclosure listing.
type Filing struct {
	ReceiptNo   string
	CorpCode    string
	CorpName    string
	StockCode   string
	ReportName  string
	FilerName   string
	ReceiptDate string
	Remark      string
}

// StatementLine is one account line of a financial statement filing.
type StatementLine struct {
	ReceiptNo     string
	CorpCode      string
	BusinessYear  string
	ReportCode    string
	StatementDiv  string
	FSDiv         string
	AccountName   string
	Ord           int
	CurrentAmount string
	PriorAmount   string
	Currency      string
}

// NewsItem is one search hit from a news source.
type NewsItem struct {
	Title       string
	URL         string
	Snippet     string
	PublishedAt time.Time
	Source      string
}

// MarketDataSource returns daily bars for entity between start and end
// inclusive, in any order. An empty slice with a nil error means no data.
type MarketDataSource interface {
	FetchPrices(ctx context.Context, entity storage.Entity, start, end freshness.Date) ([]Bar, error)
}

// DisclosureDataSource reads a corporate disclosure registry. A source-level
// "no data" answer is returned as an empty slice, never as an error.
type DisclosureDataSource interface {
	ListFilings(ctx context.Context, corpCode string, start, end freshness.Date) ([]Filing, error)
	FinancialStatements(ctx context.Context, corpCode, year string) ([]StatementLine, error)
}

// NewsScrapeSource searches a news index.
type NewsScrapeSource interface {
	Search(ctx context.Context, query string, limit int) ([]NewsItem, error)
}

// ContentFetcher returns the cleaned article body at url.
type ContentFetcher interface {
	FetchContent(ctx context.Context, url string) (string, error)
}
