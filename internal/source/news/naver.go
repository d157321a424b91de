// Package news searches the Naver news index and extracts article bodies.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/source"
)

const (
	sourceName     = "naver"
	defaultBaseURL = "https://openapi.naver.com"
	defaultTimeout = 10 * time.Second
	maxDisplay     = 100
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Client implements source.NewsScrapeSource over the Naver search API.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	gate         *ratelimit.Gate
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithGate makes every request pass through g.
func WithGate(g *ratelimit.Gate) Option {
	return func(c *Client) { c.gate = g }
}

func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		gate:         ratelimit.Unlimited(sourceName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(clientID, clientSecret, baseURL string, opts ...Option) *Client {
	c := NewClient(clientID, clientSecret, opts...)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type searchResponse struct {
	Items []struct {
		Title        string `json:"title"`
		OriginalLink string `json:"originallink"`
		Link         string `json:"link"`
		Description  string `json:"description"`
		PubDate      string `json:"pubDate"`
	} `json:"items"`
}

// Search returns up to limit of the newest articles matching query. Markup is
// stripped from titles and snippets. Items without a link are skipped.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]source.NewsItem, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return nil, source.NewPermanent(sourceName, "search", errors.New("client credentials not configured"))
	}
	if limit <= 0 {
		return nil, nil
	}
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("display", strconv.Itoa(min(limit, maxDisplay)))
	q.Set("sort", "date")

	header := http.Header{}
	header.Set("X-Naver-Client-Id", c.clientID)
	header.Set("X-Naver-Client-Secret", c.clientSecret)
	body, err := source.Get(ctx, c.httpClient, sourceName, "search", c.baseURL+"/v1/search/news.json?"+q.Encode(), header)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, source.NewPermanent(sourceName, "search", fmt.Errorf("decoding response: %w", err))
	}

	items := make([]source.NewsItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		link := it.Link
		if link == "" {
			link = it.OriginalLink
		}
		if link == "" {
			continue
		}
		origin := it.OriginalLink
		if origin == "" {
			origin = link
		}
		item := source.NewsItem{
			Title:   StripMarkup(it.Title),
			URL:     link,
			Snippet: StripMarkup(it.Description),
			Source:  SourceLabel(origin),
		}
		if t, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
			item.PublishedAt = t
		}
		items = append(items, item)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// StripMarkup removes tags and decodes entities.
func StripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

var outlets = map[string]string{
	"chosun.com":       "조선일보",
	"biz.chosun.com":   "조선비즈",
	"donga.com":        "동아일보",
	"joins.com":        "중앙일보",
	"joongang.co.kr":   "중앙일보",
	"mk.co.kr":         "매일경제",
	"hankyung.com":     "한국경제",
	"yonhapnews.co.kr": "연합뉴스",
	"yna.co.kr":        "연합뉴스",
	"mt.co.kr":         "머니투데이",
	"etnews.com":       "전자신문",
	"edaily.co.kr":     "이데일리",
	"sedaily.com":      "서울경제",
	"newsis.com":       "뉴시스",
	"news1.kr":         "뉴스1",
	"asiae.co.kr":      "아시아경제",
	"heraldcorp.com":   "헤럴드경제",
	"fnnews.com":       "파이낸셜뉴스",
	"hani.co.kr":       "한겨레",
	"khan.co.kr":       "경향신문",
	"news.naver.com":   "네이버뉴스",
	"blog.naver.com":   "블로그",
	"blog.daum.net":    "블로그",
	"tistory.com":      "블로그",
	"cafe.naver.com":   "카페",
	"cafe.daum.net":    "카페",
	"dcinside.com":     "커뮤니티",
	"clien.net":        "커뮤니티",
	"fmkorea.com":      "커뮤니티",
	"ppomppu.co.kr":    "커뮤니티",
}

// secondLevel holds the registry labels that sit under country-code TLDs,
// as in co.kr or or.kr.
var secondLevel = map[string]bool{
	"co": true, "or": true, "ne": true, "go": true, "ac": true, "re": true, "pe": true,
	"com": true, "net": true, "org": true,
}

// SourceLabel names the outlet that published link. The most specific known
// domain wins. Unknown hosts are labeled by their registrable name.
func SourceLabel(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "Unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	parts := strings.Split(host, ".")
	for i := range parts {
		if label, ok := outlets[strings.Join(parts[i:], ".")]; ok {
			return label
		}
	}
	n := len(parts)
	if n < 2 {
		return "Unknown"
	}
	if n >= 3 && len(parts[n-1]) == 2 && secondLevel[parts[n-2]] {
		return parts[n-3]
	}
	return parts[n-2]
}

var stockKeywords = []string{"주가", "실적", "재무", "매출", "영업이익", "투자", "상장", "공시", "배당"}

// Relevant reports whether an article is about the stock with the given name
// and code: the title names it, the snippet names it, or a market keyword
// appears alongside part of the name.
func Relevant(title, snippet, name, code string) bool {
	if name != "" && (strings.Contains(title, name) || strings.Contains(snippet, name)) {
		return true
	}
	if code != "" && strings.Contains(title, code) {
		return true
	}

	text := title + " " + snippet
	hasKeyword := false
	for _, kw := range stockKeywords {
		if strings.Contains(text, kw) {
			hasKeyword = true
			break
		}
	}
	if !hasKeyword {
		return false
	}
	for _, part := range strings.Fields(name) {
		if len([]rune(part)) > 1 && strings.Contains(text, part) {
			return true
		}
	}
	return false
}

// DefaultQueries returns the search strategies run for a stock.
func DefaultQueries(name string) []string {
	return []string{name, name + " 주가", name + " 실적", name + " 재무"}
}

// Window accepts articles published on one of the Days calendar days before
// Today, evaluated in Loc.
type Window struct {
	Today freshness.Date
	Days  int
	Loc   *time.Location
}

// Contains reports whether published falls inside w. Undated articles never do.
func (w Window) Contains(published time.Time) bool {
	if published.IsZero() {
		return false
	}
	loc := w.Loc
	if loc == nil {
		loc = time.UTC
	}
	d := freshness.DateOf(published.In(loc))
	return d.Before(w.Today) && !d.Before(w.Today.AddDays(-w.Days))
}
