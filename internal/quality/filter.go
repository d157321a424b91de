// Package quality scores candidate news documents and suppresses duplicates
// seen earlier in the same session.
package quality

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultTitleCapacity = 1000
	DefaultHashCapacity  = 5000

	ReasonMalformed = "malformed document"
	ReasonDuplicate = "duplicate content"
)

// Document is a scraped news item awaiting a verdict.
type Document struct {
	Title       string
	Body        string
	URL         string
	Source      string
	PublishedAt time.Time
}

// Verdict is the outcome of evaluating one Document.
type Verdict struct {
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
	Accepted  bool     `json:"accepted"`
	Duplicate bool     `json:"duplicate"`
	Trust     int      `json:"trust"`
}

type Config struct {
	Rules         *Rules
	TitleCapacity int
	HashCapacity  int
}

// Stats reports the current size of the dedup caches.
type Stats struct {
	Titles int
	Hashes int
}

// Filter holds the dedup state of one collection session. It is safe for
// concurrent use.
type Filter struct {
	mu     sync.Mutex
	rules  *Rules
	titles *titleCache
	hashes *hashSet
}

func New(cfg Config) *Filter {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.TitleCapacity <= 0 {
		cfg.TitleCapacity = DefaultTitleCapacity
	}
	if cfg.HashCapacity <= 0 {
		cfg.HashCapacity = DefaultHashCapacity
	}
	return &Filter{
		rules:  cfg.Rules,
		titles: newTitleCache(cfg.TitleCapacity),
		hashes: newHashSet(cfg.HashCapacity),
	}
}

// Evaluate scores doc and records it in the dedup caches. Duplicates are
// always rejected, whatever their score.
func (f *Filter) Evaluate(doc Document) Verdict {
	if malformed(doc) {
		return Verdict{Score: 0, Reasons: []string{ReasonMalformed}}
	}

	r := f.rules
	text := doc.Title + "\n" + doc.Body
	lowered := strings.ToLower(text)

	score := 100
	var reasons []string
	flag := func(penalty int, reason string) {
		score -= penalty
		reasons = append(reasons, reason)
	}

	if r.Spam.matches(text, lowered) {
		flag(r.Spam.Penalty, r.Spam.Reason)
	}

	normTitle := normalize(doc.Title)
	hash := contentHash(doc.Body)

	f.mu.Lock()
	duplicate := f.titles.similar(normTitle, r.SimilarityThreshold) || f.hashes.contains(hash)
	f.titles.add(normTitle)
	f.hashes.add(hash)
	f.mu.Unlock()

	if duplicate {
		flag(r.DuplicatePenalty, ReasonDuplicate)
	}

	if r.Suspicious.matches(text, lowered) {
		flag(r.Suspicious.Penalty, r.Suspicious.Reason)
	}

	trust := r.Trust(doc.Source)
	if trust < r.TrustFloor {
		if ceiling := trust + r.TrustCeilingMargin; score > ceiling {
			score = ceiling
		}
		reasons = append(reasons, "low source credibility")
	}

	for _, reason := range r.Content.check(doc.Title, doc.Body) {
		flag(r.Content.Penalty, reason)
	}

	if r.Encoding.matches(text, lowered) {
		flag(r.Encoding.Penalty, r.Encoding.Reason)
	}

	for i := range r.Custom {
		if r.Custom[i].matches(text, lowered) {
			flag(r.Custom[i].Penalty, r.Custom[i].Reason)
		}
	}

	score = clamp(score, 0, 100)
	return Verdict{
		Score:     score,
		Reasons:   reasons,
		Accepted:  !duplicate && score >= r.AcceptScore && distinct(reasons) <= r.MaxReasons,
		Duplicate: duplicate,
		Trust:     trust,
	}
}

// Stats returns the number of titles and hashes currently remembered.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Titles: f.titles.len(), Hashes: f.hashes.len()}
}

func (c ContentRules) check(title, body string) []string {
	var reasons []string
	if n := utf8.RuneCountInString(strings.TrimSpace(title)); n < c.MinTitleRunes || n > c.MaxTitleRunes {
		reasons = append(reasons, "title length out of range")
	}
	if utf8.RuneCountInString(strings.TrimSpace(body)) < c.MinBodyRunes {
		reasons = append(reasons, "body too short")
	}
	if countSentences(body) < c.MinSentences {
		reasons = append(reasons, "too few sentences")
	}
	if countHangulWords(body) < c.MinNativeTokens {
		reasons = append(reasons, "too few Korean words")
	}
	if tokens := wordTokens(body); len(tokens) >= c.RepetitionMinTokens && maxTokenShare(tokens) > c.MaxTokenShare {
		reasons = append(reasons, "repetitive content")
	}
	return reasons
}

func malformed(doc Document) bool {
	if strings.TrimSpace(doc.Title) == "" || strings.TrimSpace(doc.Body) == "" {
		return true
	}
	return !utf8.ValidString(doc.Title) || !utf8.ValidString(doc.Body)
}

func distinct(reasons []string) int {
	seen := make(map[string]struct{}, len(reasons))
	for _, r := range reasons {
		seen[r] = struct{}{}
	}
	return len(seen)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
