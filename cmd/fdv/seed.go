package main

import "github.com/financevibe/fdv/internal/storage"

// seedEntities is the default watch list: large caps across the main
// sectors of both boards.
var seedEntities = []storage.Entity{
	{ID: "005930", Name: "삼성전자", Market: "KOSPI", Sector: "반도체"},
	{ID: "000660", Name: "SK하이닉스", Market: "KOSPI", Sector: "반도체"},
	{ID: "035420", Name: "NAVER", Market: "KOSPI", Sector: "인터넷"},
	{ID: "005380", Name: "현대차", Market: "KOSPI", Sector: "자동차"},
	{ID: "006400", Name: "삼성SDI", Market: "KOSPI", Sector: "2차전지"},
	{ID: "051910", Name: "LG화학", Market: "KOSPI", Sector: "화학"},
	{ID: "035720", Name: "카카오", Market: "KOSPI", Sector: "인터넷"},
	{ID: "207940", Name: "삼성바이오로직스", Market: "KOSPI", Sector: "바이오"},
	{ID: "068270", Name: "셀트리온", Market: "KOSPI", Sector: "바이오"},
	{ID: "000270", Name: "기아", Market: "KOSPI", Sector: "자동차"},
	{ID: "005490", Name: "POSCO홀딩스", Market: "KOSPI", Sector: "철강"},
	{ID: "105560", Name: "KB금융", Market: "KOSPI", Sector: "금융"},
	{ID: "055550", Name: "신한지주", Market: "KOSPI", Sector: "금융"},
	{ID: "012330", Name: "현대모비스", Market: "KOSPI", Sector: "자동차부품"},
	{ID: "066570", Name: "LG전자", Market: "KOSPI", Sector: "전자"},
	{ID: "003550", Name: "LG", Market: "KOSPI", Sector: "지주"},
	{ID: "017670", Name: "SK텔레콤", Market: "KOSPI", Sector: "통신"},
	{ID: "034730", Name: "SK", Market: "KOSPI", Sector: "지주"},
	{ID: "247540", Name: "에코프로비엠", Market: "KOSDAQ", Sector: "2차전지"},
	{ID: "086520", Name: "에코프로", Market: "KOSDAQ", Sector: "2차전지"},
}
