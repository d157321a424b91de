package quality

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatchMode selects how a PatternRule's patterns are applied.
type MatchMode string

const (
	MatchRegex     MatchMode = "regex"
	MatchSubstring MatchMode = "substring"
)

// PatternRule deducts Penalty once when any pattern matches title or body.
type PatternRule struct {
	Name     string    `yaml:"name"`
	Mode     MatchMode `yaml:"mode"`
	Patterns []string  `yaml:"patterns"`
	Penalty  int       `yaml:"penalty"`
	Reason   string    `yaml:"reason"`

	compiled []*regexp.Regexp
	lowered  []string
}

func (p *PatternRule) compile() error {
	p.compiled = nil
	p.lowered = nil
	switch p.Mode {
	case MatchRegex, "":
		p.Mode = MatchRegex
		for _, pat := range p.Patterns {
			if !strings.HasPrefix(pat, "(?i)") {
				pat = "(?i)" + pat
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				return fmt.Errorf("rule %q: compiling %q: %w", p.Name, pat, err)
			}
			p.compiled = append(p.compiled, re)
		}
	case MatchSubstring:
		for _, pat := range p.Patterns {
			p.lowered = append(p.lowered, strings.ToLower(pat))
		}
	default:
		return fmt.Errorf("rule %q: unknown match mode %q", p.Name, p.Mode)
	}
	return nil
}

// matches reports whether the rule fires. lowered must be strings.ToLower(text).
func (p *PatternRule) matches(text, lowered string) bool {
	for _, re := range p.compiled {
		if re.MatchString(text) {
			return true
		}
	}
	for _, sub := range p.lowered {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	return false
}

// ContentRules are the thresholds of the content-quality heuristic. Each
// failed check deducts Penalty and adds its own reason.
type ContentRules struct {
	MinTitleRunes   int `yaml:"min_title_runes"`
	MaxTitleRunes   int `yaml:"max_title_runes"`
	MinBodyRunes    int `yaml:"min_body_runes"`
	MinSentences    int `yaml:"min_sentences"`
	MinNativeTokens int `yaml:"min_native_tokens"`
	// MaxTokenShare caps the share of the most frequent word. The check only
	// runs once a body has RepetitionMinTokens words.
	MaxTokenShare       float64 `yaml:"max_token_share"`
	RepetitionMinTokens int     `yaml:"repetition_min_tokens"`
	Penalty             int     `yaml:"penalty"`
}

// Rules is the complete scoring table of a Filter.
type Rules struct {
	Spam       PatternRule   `yaml:"spam"`
	Suspicious PatternRule   `yaml:"suspicious"`
	Encoding   PatternRule   `yaml:"encoding"`
	Custom     []PatternRule `yaml:"custom"`

	DuplicatePenalty    int     `yaml:"duplicate_penalty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	SourceTrust map[string]int `yaml:"source_trust"`
	// DefaultTrust applies to sources missing from SourceTrust.
	DefaultTrust int `yaml:"default_trust"`
	// Sources trusted below TrustFloor cap the score at trust+TrustCeilingMargin.
	TrustFloor         int `yaml:"trust_floor"`
	TrustCeilingMargin int `yaml:"trust_ceiling_margin"`

	Content ContentRules `yaml:"content"`

	AcceptScore int `yaml:"accept_score"`
	MaxReasons  int `yaml:"max_reasons"`
}

// DefaultRules returns the built-in table for Korean financial news.
func DefaultRules() *Rules {
	r := &Rules{
		Spam: PatternRule{
			Name: "spam",
			Mode: MatchRegex,
			Patterns: []string{
				`무료\s*(상담|체험|증정|추천)`,
				`수익\s*(보장|인증)`,
				`(카톡|카카오톡|텔레그램|오픈채팅)\s*(문의|상담|방|초대)`,
				`(리딩방|급등주\s*추천|단타\s*추천|종목\s*상담)`,
				`(지금|바로)\s*(클릭|가입)`,
				`광고\s*문의`,
				`https?://(bit\.ly|t\.me|open\.kakao\.com)/`,
				`\b(casino|viagra|crypto\s*giveaway)\b`,
			},
			Penalty: 30,
			Reason:  "spam pattern",
		},
		Suspicious: PatternRule{
			Name: "suspicious",
			Mode: MatchSubstring,
			Patterns: []string{
				"lorem ipsum",
				"테스트 기사",
				"샘플 데이터",
				"더미 데이터",
				"0원 0원",
				"999,999,999",
				"123,456,789",
				"nan원",
				"undefined",
				"[object object]",
			},
			Penalty: 20,
			Reason:  "suspicious placeholder content",
		},
		Encoding: PatternRule{
			Name: "encoding",
			Mode: MatchRegex,
			Patterns: []string{
				`\x{FFFD}`,
				`[ÃÂâêëìí][\x{0080}-\x{00BF}]`,
				`[\x{0080}-\x{009F}]`,
				`(&[a-z]+;|&#[0-9]+;){3,}`,
				`\?{4,}`,
			},
			Penalty: 10,
			Reason:  "encoding corruption",
		},
		DuplicatePenalty:    25,
		SimilarityThreshold: 0.85,
		SourceTrust: map[string]int{
			"연합뉴스":   95,
			"한국경제":   90,
			"매일경제":   90,
			"조선일보":   85,
			"중앙일보":   85,
			"동아일보":   85,
			"머니투데이":  85,
			"이데일리":   85,
			"서울경제":   85,
			"뉴시스":    85,
			"뉴스1":    85,
			"전자신문":   80,
			"아시아경제":  80,
			"헤럴드경제":  80,
			"파이낸셜뉴스": 80,
			"조선비즈":   80,
			"네이버뉴스":  75,
			"블로그":    30,
			"카페":     25,
			"커뮤니티":   20,
		},
		DefaultTrust:       60,
		TrustFloor:         50,
		TrustCeilingMargin: 20,
		Content: ContentRules{
			MinTitleRunes:       10,
			MaxTitleRunes:       200,
			MinBodyRunes:        50,
			MinSentences:        2,
			MinNativeTokens:     10,
			MaxTokenShare:       0.10,
			RepetitionMinTokens: 20,
			Penalty:             5,
		},
		AcceptScore: 70,
		MaxReasons:  2,
	}
	if err := r.Compile(); err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a YAML rules file. Fields the file does not set keep their
// default values; source_trust entries are merged into the default table.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	r := DefaultRules()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Compile prepares the pattern rules. It must be called after modifying a
// Rules value by hand.
func (r *Rules) Compile() error {
	for _, p := range []*PatternRule{&r.Spam, &r.Suspicious, &r.Encoding} {
		if err := p.compile(); err != nil {
			return err
		}
	}
	for i := range r.Custom {
		if err := r.Custom[i].compile(); err != nil {
			return err
		}
	}
	if r.SimilarityThreshold <= 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", r.SimilarityThreshold)
	}
	return nil
}

// Trust returns the credibility score of a source label.
func (r *Rules) Trust(source string) int {
	if t, ok := r.SourceTrust[strings.TrimSpace(source)]; ok {
		return t
	}
	return r.DefaultTrust
}
