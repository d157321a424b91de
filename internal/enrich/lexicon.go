// Package enrich scores stored news articles after collection.
package enrich

import (
	"math"
	"strings"
	"unicode"
)

// Term is a weighted lexicon entry. Terms are matched as substrings of the
// article text with all whitespace removed, so "실적 개선" matches 실적개선.
type Term struct {
	Word   string
	Weight float64
}

// Lexicon holds the positive and negative term lists and the noise terms that
// dilute a score without pointing either way.
type Lexicon struct {
	Positive []Term
	Negative []Term
	Noise    []string
}

// noiseWeight is what each matched noise term adds to the denominator.
const noiseWeight = 0.1

func terms(weight float64, words ...string) []Term {
	out := make([]Term, len(words))
	for i, w := range words {
		out[i] = Term{Word: w, Weight: weight}
	}
	return out
}

// DefaultLexicon returns the value-investing lexicon: fundamentals weigh
// most, market-wide conditions least.
func DefaultLexicon() *Lexicon {
	var pos, neg []Term
	pos = append(pos, terms(3.0,
		"실적개선", "매출증가", "영업이익", "순이익증가", "이익률개선",
		"roe상승", "자기자본이익률", "부채감소", "재무건전성", "유동성개선",
		"영업현금흐름", "잉여현금", "자본확충", "재무구조개선", "신용등급상향")...)
	pos = append(pos, terms(2.5,
		"신사업", "사업확장", "시장점유율", "경쟁우위", "브랜드가치",
		"특허취득", "기술력", "연구개발", "혁신", "차별화",
		"시장진입", "해외진출", "신규고객", "계약체결", "파트너십")...)
	pos = append(pos, terms(2.0,
		"전문경영", "투명경영", "지배구조개선", "esg",
		"배당증액", "배당정책", "주주환원", "자사주매입",
		"구조조정완료", "효율성개선", "비용절감", "생산성향상",
		"매출확대", "수주증가", "주문급증", "백로그", "파이프라인",
		"신제품출시", "제품포트폴리오", "고부가가치", "프리미엄",
		"글로벌진출", "수출증가", "시장확대", "고객기반확장")...)

	neg = append(neg, terms(3.0,
		"실적악화", "매출감소", "적자전환", "손실확대", "이익률하락",
		"roe하락", "부채증가", "재무악화", "유동성위기", "자금난",
		"현금흐름악화", "신용등급하향", "부실", "정리해고")...)
	neg = append(neg, terms(2.5,
		"시장축소", "점유율하락", "경쟁심화", "가격경쟁", "마진압박",
		"기술낙후", "특허분쟁", "소송", "규제강화", "제재",
		"고객이탈", "계약해지", "사업철수", "공장폐쇄", "감산")...)
	neg = append(neg, terms(2.0,
		"경영진갈등", "횡령", "배임", "분식회계",
		"감사의견거절", "검찰수사", "기소",
		"배당중단", "무배당", "주주갈등", "경영권분쟁")...)
	neg = append(neg, terms(1.5,
		"경기침체", "불황", "금리인상", "인플레이션", "환율급등",
		"원자재가격", "유가급등", "공급망차질", "팬데믹", "지정학적리스크",
		"무역분쟁", "관세", "수출규제", "경제제재")...)

	return &Lexicon{
		Positive: pos,
		Negative: neg,
		Noise: []string{
			"주가", "시세", "차트", "이평선", "거래량",
			"매수추천", "매도추천", "목표주가", "단타", "급등주", "급락주",
		},
	}
}

// Score rates text in [-1, 1] as (positive - negative) / (positive +
// negative + noise). Each term counts once however often it appears. Text
// matching nothing scores 0.
func (l *Lexicon) Score(text string) float64 {
	compact := compact(text)
	if compact == "" {
		return 0
	}
	pos := matched(compact, l.Positive)
	neg := matched(compact, l.Negative)
	noise := 0.0
	for _, w := range l.Noise {
		if strings.Contains(compact, w) {
			noise += noiseWeight
		}
	}
	total := pos + neg + noise
	if total == 0 {
		return 0
	}
	return math.Round((pos-neg)/total*10000) / 10000
}

func matched(text string, list []Term) float64 {
	sum := 0.0
	for _, t := range list {
		if strings.Contains(text, t.Word) {
			sum += t.Weight
		}
	}
	return sum
}

// compact lowercases text and drops whitespace and punctuation.
func compact(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
