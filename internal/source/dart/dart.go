// Package dart reads filings and financial statements from the OpenDART
// disclosure registry.
package dart

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/source"
)

const (
	sourceName      = "dart"
	defaultBaseURL  = "https://opendart.fss.or.kr/api"
	defaultTimeout  = 30 * time.Second
	corpCodeTimeout = 60 * time.Second
	pageCount       = 100

	// Annual report, consolidated statements.
	ReportAnnual   = "11011"
	FSConsolidated = "CFS"
)

// StatusMap maps registry status codes to outcomes. Codes missing from the
// map are permanent failures.
type StatusMap map[string]source.Status

// DefaultStatusMap is the OpenDART convention: 000 success, 013 no data,
// 020 request limit exceeded, 800 system maintenance.
func DefaultStatusMap() StatusMap {
	return StatusMap{
		"000": source.StatusOK,
		"013": source.StatusEmpty,
		"020": source.StatusRateLimited,
		"800": source.StatusTransient,
	}
}

// Client implements source.DisclosureDataSource.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	gate       *ratelimit.Gate
	statuses   StatusMap
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithGate(g *ratelimit.Gate) Option {
	return func(c *Client) { c.gate = g }
}

func WithStatusMap(m StatusMap) Option {
	return func(c *Client) { c.statuses = m }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		gate:       ratelimit.Unlimited(sourceName),
		statuses:   DefaultStatusMap(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string, opts ...Option) *Client {
	c := NewClient(apiKey, opts...)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	PageNo    int    `json:"page_no"`
	TotalPage int    `json:"total_page"`
}

// call fetches endpoint and decodes it into out. It returns source.ErrNoData
// when the registry answered with an empty-result status.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if c.apiKey == "" {
		return source.NewPermanent(sourceName, endpoint, errors.New("API key not configured"))
	}
	if err := c.gate.Acquire(ctx); err != nil {
		return err
	}

	params.Set("crtfc_key", c.apiKey)
	body, err := source.Get(ctx, c.httpClient, sourceName, endpoint, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return source.NewPermanent(sourceName, endpoint, fmt.Errorf("decoding envelope: %w", err))
	}

	status, ok := c.statuses[env.Status]
	if !ok {
		status = source.StatusPermanent
	}
	statusErr := fmt.Errorf("status %s: %s", env.Status, env.Message)
	switch status {
	case source.StatusEmpty:
		return source.ErrNoData
	case source.StatusTransient:
		return source.NewTransient(sourceName, endpoint, statusErr)
	case source.StatusRateLimited:
		return source.NewRateLimited(sourceName, endpoint, statusErr)
	case source.StatusPermanent:
		return source.NewPermanent(sourceName, endpoint, statusErr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return source.NewPermanent(sourceName, endpoint, fmt.Errorf("decoding body: %w", err))
	}
	return nil
}

type listResponse struct {
	envelope
	List []struct {
		CorpCode   string `json:"corp_code"`
		CorpName   string `json:"corp_name"`
		StockCode  string `json:"stock_code"`
		ReportName string `json:"report_nm"`
		ReceiptNo  string `json:"rcept_no"`
		FilerName  string `json:"flr_nm"`
		ReceiptDt  string `json:"rcept_dt"`
		Remark     string `json:"rm"`
	} `json:"list"`
}

// ListFilings returns every filing of corpCode received between start and end
// inclusive, following pagination.
func (c *Client) ListFilings(ctx context.Context, corpCode string, start, end freshness.Date) ([]source.Filing, error) {
	var filings []source.Filing
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("corp_code", corpCode)
		params.Set("bgn_de", compact(start))
		params.Set("end_de", compact(end))
		params.Set("page_no", strconv.Itoa(page))
		params.Set("page_count", strconv.Itoa(pageCount))

		var resp listResponse
		err := c.call(ctx, "list.json", params, &resp)
		if errors.Is(err, source.ErrNoData) {
			return filings, nil
		}
		if err != nil {
			return filings, err
		}
		for _, item := range resp.List {
			filings = append(filings, source.Filing{
				ReceiptNo:   item.ReceiptNo,
				CorpCode:    item.CorpCode,
				CorpName:    item.CorpName,
				StockCode:   item.StockCode,
				ReportName:  strings.TrimSpace(item.ReportName),
				FilerName:   item.FilerName,
				ReceiptDate: item.ReceiptDt,
				Remark:      item.Remark,
			})
		}
		if resp.TotalPage <= page {
			return filings, nil
		}
	}
}

type statementResponse struct {
	envelope
	List []struct {
		ReceiptNo     string `json:"rcept_no"`
		BusinessYear  string `json:"bsns_year"`
		CorpCode      string `json:"corp_code"`
		ReportCode    string `json:"reprt_code"`
		StatementDiv  string `json:"sj_div"`
		AccountName   string `json:"account_nm"`
		CurrentAmount string `json:"thstrm_amount"`
		PriorAmount   string `json:"frmtrm_amount"`
		Ord           string `json:"ord"`
		Currency      string `json:"currency"`
	} `json:"list"`
}

// FinancialStatements returns the consolidated annual statement lines filed
// for business year year.
func (c *Client) FinancialStatements(ctx context.Context, corpCode, year string) ([]source.StatementLine, error) {
	params := url.Values{}
	params.Set("corp_code", corpCode)
	params.Set("bsns_year", year)
	params.Set("reprt_code", ReportAnnual)
	params.Set("fs_div", FSConsolidated)

	var resp statementResponse
	if err := c.call(ctx, "fnlttSinglAcntAll.json", params, &resp); err != nil {
		if errors.Is(err, source.ErrNoData) {
			return nil, nil
		}
		return nil, err
	}

	lines := make([]source.StatementLine, 0, len(resp.List))
	for _, item := range resp.List {
		ord, _ := strconv.Atoi(item.Ord)
		lines = append(lines, source.StatementLine{
			ReceiptNo:     item.ReceiptNo,
			CorpCode:      corpCode,
			BusinessYear:  item.BusinessYear,
			ReportCode:    item.ReportCode,
			StatementDiv:  item.StatementDiv,
			FSDiv:         FSConsolidated,
			AccountName:   strings.TrimSpace(item.AccountName),
			Ord:           ord,
			CurrentAmount: item.CurrentAmount,
			PriorAmount:   item.PriorAmount,
			Currency:      item.Currency,
		})
	}
	return lines, nil
}

type corpCodeFile struct {
	List []struct {
		CorpCode  string `xml:"corp_code"`
		CorpName  string `xml:"corp_name"`
		StockCode string `xml:"stock_code"`
	} `xml:"list"`
}

// CorpCodes downloads the registry's company list and returns the corp code
// of every listed company keyed by its six-digit stock code.
func (c *Client) CorpCodes(ctx context.Context) (map[string]string, error) {
	if c.apiKey == "" {
		return nil, source.NewPermanent(sourceName, "corpCode.xml", errors.New("API key not configured"))
	}
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	client := *c.httpClient
	client.Timeout = corpCodeTimeout
	params := url.Values{}
	params.Set("crtfc_key", c.apiKey)
	body, err := source.Get(ctx, &client, sourceName, "corpCode.xml", c.baseURL+"/corpCode.xml?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, source.NewPermanent(sourceName, "corpCode.xml", fmt.Errorf("opening archive: %w", err))
	}
	codes := make(map[string]string)
	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, "CORPCODE.xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, source.NewPermanent(sourceName, "corpCode.xml", fmt.Errorf("opening %s: %w", f.Name, err))
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, source.NewPermanent(sourceName, "corpCode.xml", fmt.Errorf("reading %s: %w", f.Name, err))
		}
		var file corpCodeFile
		if err := xml.Unmarshal(data, &file); err != nil {
			return nil, source.NewPermanent(sourceName, "corpCode.xml", fmt.Errorf("parsing %s: %w", f.Name, err))
		}
		for _, item := range file.List {
			stock := strings.TrimSpace(item.StockCode)
			if len(stock) == 6 {
				codes[stock] = strings.TrimSpace(item.CorpCode)
			}
		}
	}
	if len(codes) == 0 {
		return nil, source.NewPermanent(sourceName, "corpCode.xml", errors.New("no listed companies in archive"))
	}
	return codes, nil
}

func compact(d freshness.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}
