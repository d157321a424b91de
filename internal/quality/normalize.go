package quality

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	hangulWord    = regexp.MustCompile(`\p{Hangul}+`)
	sentenceBreak = regexp.MustCompile(`[.!?。]+|\n+`)
)

// normalize folds s to NFKC, drops everything but letters and digits, and
// lowercases the rest.
func normalize(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// contentHash identifies a body regardless of whitespace, punctuation, case,
// and compatibility forms. Bodies with no letters or digits hash to "".
func contentHash(body string) string {
	n := normalize(body)
	if n == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(n))
	return hex.EncodeToString(sum[:])
}

// wordTokens splits NFKC-folded, lowercased text on anything that is not a
// letter or digit.
func wordTokens(s string) []string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countHangulWords(s string) int {
	return len(hangulWord.FindAllStringIndex(s, -1))
}

func countSentences(s string) int {
	n := 0
	for _, chunk := range sentenceBreak.Split(s, -1) {
		if strings.TrimSpace(chunk) != "" {
			n++
		}
	}
	return n
}

// maxTokenShare returns the frequency share of the most common token.
func maxTokenShare(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	counts := make(map[string]int, len(tokens))
	top := 0
	for _, t := range tokens {
		counts[t]++
		if counts[t] > top {
			top = counts[t]
		}
	}
	return float64(top) / float64(len(tokens))
}
