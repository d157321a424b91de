package enrich

import "testing"

func TestLexicon_Score(t *testing.T) {
	lex := DefaultLexicon()
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0},
		{"no terms", "전국 맑고 선선한 날씨", 0},
		{"positive only", "영업이익 급증에 대규모 계약체결까지", 1},
		{"spaced term", "실적 개선 기대", 1},
		{"negative with noise", "적자전환 우려 속 주가 약세", -0.9677},
		{"mixed", "실적개선에도 소송 리스크", 0.0909},
		{"counted once", "적자전환 적자전환 적자전환", -1},
		{"case folded", "ESG 평가 상향", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lex.Score(tt.text); got != tt.want {
				t.Errorf("Score(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestLexicon_ScoreBounds(t *testing.T) {
	lex := DefaultLexicon()
	for _, text := range []string{
		"영업이익 매출증가 순이익증가 재무건전성 신사업 혁신",
		"실적악화 매출감소 부실 횡령 배임 경기침체",
		"주가 시세 차트 거래량",
	} {
		got := lex.Score(text)
		if got < -1 || got > 1 {
			t.Errorf("Score(%q) = %v, outside [-1, 1]", text, got)
		}
	}
}
