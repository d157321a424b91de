// Package market fetches daily price bars from the Yahoo Finance chart API.
package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

const (
	sourceName     = "yahoo"
	defaultBaseURL = "https://query1.finance.yahoo.com"
	defaultTimeout = 30 * time.Second
	userAgent      = "Mozilla/5.0 (compatible; fdv/1.0)"
)

// Client implements source.MarketDataSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	gate       *ratelimit.Gate
	loc        *time.Location
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithGate makes every request pass through g.
func WithGate(g *ratelimit.Gate) Option {
	return func(c *Client) { c.gate = g }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		gate:       ratelimit.Unlimited(sourceName),
		loc:        ratelimit.Seoul(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(baseURL string, opts ...Option) *Client {
	c := NewClient(opts...)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Symbol returns the chart symbol of a listed entity.
func Symbol(e storage.Entity) string {
	if strings.EqualFold(e.Market, "KOSDAQ") {
		return e.ID + ".KQ"
	}
	return e.ID + ".KS"
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchPrices returns the daily bars of entity from start to end inclusive,
// sorted by date. Bars where the source reported no value at all are dropped.
func (c *Client) FetchPrices(ctx context.Context, entity storage.Entity, start, end freshness.Date) ([]source.Bar, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	symbol := Symbol(entity)
	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.In(c.loc).Unix()))
	q.Set("period2", fmt.Sprint(end.AddDays(1).In(c.loc).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	body, err := source.Get(ctx, c.httpClient, sourceName, "chart", endpoint, header)
	if err != nil {
		return nil, err
	}
	return c.parse(symbol, body, start, end)
}

func (c *Client) parse(symbol string, body []byte, start, end freshness.Date) ([]source.Bar, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, source.NewPermanent(sourceName, "chart", fmt.Errorf("decoding %s: %w", symbol, err))
	}
	if e := resp.Chart.Error; e != nil {
		return nil, source.NewPermanent(sourceName, "chart", fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return nil, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, source.NewPermanent(sourceName, "chart", fmt.Errorf("no quote data for %s", symbol))
	}
	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Open) != n || len(quote.High) != n || len(quote.Low) != n || len(quote.Close) != n || len(quote.Volume) != n {
		return nil, source.NewPermanent(sourceName, "chart", errors.New("mismatched quote array lengths"))
	}

	byDate := make(map[freshness.Date]source.Bar, n)
	for i, ts := range result.Timestamp {
		d := freshness.DateOf(time.Unix(ts, 0).In(c.loc))
		if d.Before(start) || d.After(end) {
			continue
		}
		bar := source.Bar{
			Date:   d,
			Open:   price(quote.Open[i]),
			High:   price(quote.High[i]),
			Low:    price(quote.Low[i]),
			Close:  price(quote.Close[i]),
			Volume: volume(quote.Volume[i]),
		}
		if !bar.Open.Valid && !bar.High.Valid && !bar.Low.Valid && !bar.Close.Valid && !bar.Volume.Valid {
			continue
		}
		// A later entry for the same day (the live bar) supersedes earlier ones.
		byDate[d] = bar
	}

	bars := make([]source.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func price(v *float64) decimal.NullDecimal {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v).Round(4))
}

func volume(v *float64) sql.NullInt64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 || *v >= math.MaxInt64 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
