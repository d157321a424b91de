package news

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/source"
)

const (
	extractorName         = "article"
	defaultContentTimeout = 15 * time.Second
	browserUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// MaxContentRunes caps an extracted body.
	MaxContentRunes = 3000
	minContentRunes = 100
)

var (
	naverBody = []cascadia.Selector{
		cascadia.MustCompile("#dic_area"),
		cascadia.MustCompile("div#newsct_article"),
		cascadia.MustCompile("div.newsct_article"),
		cascadia.MustCompile("div#articleBodyContents"),
		cascadia.MustCompile("div.article_body"),
		cascadia.MustCompile("div.news_end"),
	}
	genericBody = []cascadia.Selector{
		cascadia.MustCompile("div.article-content"),
		cascadia.MustCompile("div.news-content"),
		cascadia.MustCompile("article"),
		cascadia.MustCompile("div.post-content"),
		cascadia.MustCompile("div.article_txt"),
		cascadia.MustCompile("div.article-body"),
		cascadia.MustCompile("div.content"),
	}
	paragraphs = cascadia.MustCompile("p")

	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`// flash 오류를 우회하기 위한 함수 추가.*`),
		regexp.MustCompile(`본 기사는.*?입니다`),
		regexp.MustCompile(`저작권자.*?무단.*?금지`),
		regexp.MustCompile(`기자\s*=.*?기자`),
		regexp.MustCompile(`\[.*?\]`),
		regexp.MustCompile(`<.*?>`),
		regexp.MustCompile(`&[a-zA-Z]+;`),
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// Extractor implements source.ContentFetcher by downloading article pages.
type Extractor struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
}

type ExtractorOption func(*Extractor)

func WithContentTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) { e.httpClient.Timeout = d }
}

func WithContentGate(g *ratelimit.Gate) ExtractorOption {
	return func(e *Extractor) { e.gate = g }
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		httpClient: &http.Client{Timeout: defaultContentTimeout},
		gate:       ratelimit.Unlimited(extractorName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchContent downloads rawURL and returns its cleaned article text. A page
// without a recognizable body yields an empty string and no error.
func (e *Extractor) FetchContent(ctx context.Context, rawURL string) (string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", source.NewPermanent(extractorName, "fetch", err)
	}
	if err := e.gate.Acquire(ctx); err != nil {
		return "", err
	}

	header := http.Header{}
	header.Set("User-Agent", browserUserAgent)
	page, err := source.Get(ctx, e.httpClient, extractorName, "fetch", rawURL, header)
	if err != nil {
		return "", err
	}
	return Extract(pageURL, page), nil
}

// Extract returns the cleaned article text of page. Naver article pages are
// read through their known body containers; other pages try common containers,
// then readability, then every paragraph.
func Extract(pageURL *url.URL, page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	removeNoise(doc)

	if pageURL != nil && strings.Contains(pageURL.Hostname(), "naver.com") {
		if text := firstMatch(doc, naverBody); text != "" {
			return Clean(text)
		}
	}
	if text := firstMatch(doc, genericBody); text != "" {
		return Clean(text)
	}

	if pageURL != nil {
		if article, err := readability.FromReader(bytes.NewReader(page), pageURL); err == nil {
			if text := strings.TrimSpace(article.TextContent); runeLen(text) > minContentRunes {
				return Clean(text)
			}
		}
	}

	var parts []string
	for _, p := range paragraphs.MatchAll(doc) {
		if t := textOf(p); t != "" {
			parts = append(parts, t)
		}
	}
	return Clean(strings.Join(parts, " "))
}

// Clean drops bylines, copyright notices, and leftover markup, collapses
// whitespace, and caps the result at MaxContentRunes.
func Clean(text string) string {
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if r := []rune(text); len(r) > MaxContentRunes {
		text = string(r[:MaxContentRunes])
	}
	return text
}

func firstMatch(doc *html.Node, selectors []cascadia.Selector) string {
	for _, sel := range selectors {
		n := sel.MatchFirst(doc)
		if n == nil {
			continue
		}
		if text := textOf(n); runeLen(text) > minContentRunes {
			return text
		}
	}
	return ""
}

func removeNoise(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Ins, atom.Iframe, atom.Aside:
				n.RemoveChild(c)
				c = next
				continue
			}
		}
		removeNoise(c)
		c = next
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(whitespace.ReplaceAllString(b.String(), " "))
}

func runeLen(s string) int { return len([]rune(s)) }
