package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/financevibe/fdv/internal/collector"
	"github.com/financevibe/fdv/internal/config"
	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/storage"
)

type fakeMarket struct {
	bars  []source.Bar
	calls int
}

func (f *fakeMarket) FetchPrices(ctx context.Context, e storage.Entity, start, end freshness.Date) ([]source.Bar, error) {
	f.calls++
	var out []source.Bar
	for _, b := range f.bars {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeDart struct {
	corpCodes map[string]string
	filings   []source.Filing
	years     []string
}

func (f *fakeDart) ListFilings(ctx context.Context, corpCode string, start, end freshness.Date) ([]source.Filing, error) {
	return f.filings, nil
}

func (f *fakeDart) FinancialStatements(ctx context.Context, corpCode, year string) ([]source.StatementLine, error) {
	f.years = append(f.years, year)
	return nil, nil
}

func (f *fakeDart) CorpCodes(ctx context.Context) (map[string]string, error) {
	return f.corpCodes, nil
}

func bar(day int, close string) source.Bar {
	c := decimal.RequireFromString(close)
	return source.Bar{
		Date:  freshness.NewDate(2024, 6, day),
		Open:  decimal.NewNullDecimal(c),
		High:  decimal.NewNullDecimal(c),
		Low:   decimal.NewNullDecimal(c),
		Close: decimal.NewNullDecimal(c),
	}
}

func testConfig(dataDir string) config.Config {
	return config.Config{
		Server:    config.ServerConfig{Port: 1},
		Storage:   config.StorageConfig{DataDir: dataDir},
		Log:       config.LogConfig{Level: "info"},
		Collector: config.CollectorConfig{Workers: 1},
		Retry:     config.RetryConfig{MaxAttempts: 1},
		Freshness: config.FreshnessConfig{LookbackDays: 730, MaxIncrementalGap: 7, OverlapDays: 3},
		News:      config.NewsConfig{MaxPerQuery: 30, MaxPerEntity: 50, WindowDays: 4},
		Enrich:    config.EnrichConfig{PollInterval: 10 * time.Millisecond},
	}
}

// useTestApp points openApp at a store in a temp dir. setup, if non-nil,
// installs fake sources on every app opened.
func useTestApp(t *testing.T, setup func(*app)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)

	old := openApp
	openApp = func() (*app, error) {
		store, err := storage.Open(dir)
		if err != nil {
			return nil, err
		}
		a := &app{cfg: cfg, store: store, gate: newFreshnessGate(cfg.Freshness, store)}
		if setup != nil {
			setup(a)
		}
		return a, nil
	}
	t.Cleanup(func() { openApp = old })
	return dir
}

// openStore opens the test data dir directly for assertions.
func openStore(t *testing.T, dir string) *storage.Store {
	t.Helper()
	s, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open(%s): %v", dir, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetFlags restores every flag of cmd and its children to its default so
// package-level commands do not leak state between tests.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--no-color"}, args...))
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEntitiesSeedAndList(t *testing.T) {
	useTestApp(t, nil)

	if _, err := execute(t, "entities", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := execute(t, "entities", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "005930") || !strings.Contains(out, "삼성전자") {
		t.Errorf("list output missing seeded entity:\n%s", out)
	}
	// Header plus one line per entity.
	if got := strings.Count(strings.TrimSpace(out), "\n") + 1; got != len(seedEntities)+1 {
		t.Errorf("list printed %d lines, want %d", got, len(seedEntities)+1)
	}

	out, err = execute(t, "entities", "list", "--market", "KOSDAQ")
	if err != nil {
		t.Fatalf("list --market: %v", err)
	}
	if strings.Contains(out, "005930") || !strings.Contains(out, "247540") {
		t.Errorf("KOSDAQ filter output:\n%s", out)
	}
}

func TestEntitiesSeed_ResolveCorpCodes(t *testing.T) {
	dir := useTestApp(t, func(a *app) {
		a.dart = &fakeDart{corpCodes: map[string]string{"005930": "00126380"}}
	})

	if _, err := execute(t, "entities", "seed", "--resolve-corp-codes"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e, err := openStore(t, dir).GetEntity("005930")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if e.CorpCode != "00126380" {
		t.Errorf("corp code = %q, want 00126380", e.CorpCode)
	}
}

func TestEntitiesSeed_ResolveWithoutKey(t *testing.T) {
	useTestApp(t, nil)
	_, err := execute(t, "entities", "seed", "--resolve-corp-codes")
	if !errors.Is(err, errNoDartKey) {
		t.Errorf("err = %v, want errNoDartKey", err)
	}
}

func TestEntitiesAdd(t *testing.T) {
	dir := useTestApp(t, nil)

	if _, err := execute(t, "entities", "add", "123456", "테스트", "--market", "KOSDAQ", "--sector", "바이오"); err != nil {
		t.Fatalf("add: %v", err)
	}
	e, err := openStore(t, dir).GetEntity("123456")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if e.Market != "KOSDAQ" || e.Sector != "바이오" {
		t.Errorf("entity = %+v", e)
	}

	for _, args := range [][]string{
		{"entities", "add", "12345", "짧은코드"},
		{"entities", "add", "123456", "테스트", "--market", "NYSE"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestCollectPrices(t *testing.T) {
	market := &fakeMarket{bars: []source.Bar{bar(3, "71000"), bar(4, "72000"), bar(5, "71500")}}
	dir := useTestApp(t, func(a *app) { a.market = market })
	if _, err := execute(t, "entities", "add", "005930", "삼성전자"); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := execute(t, "collect", "prices", "--today", "2024-06-05", "--json")
	if err != nil {
		t.Fatalf("collect prices: %v", err)
	}
	var sum collector.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decoding summary: %v\n%s", err, out)
	}
	if sum.Kind != "prices" || sum.Processed != 1 || sum.Succeeded != 1 || sum.Inserted != 3 {
		t.Errorf("summary = %+v", sum)
	}

	n, err := openStore(t, dir).CountPrices("005930")
	if err != nil || n != 3 {
		t.Errorf("stored %d prices (err %v), want 3", n, err)
	}

	out, err = execute(t, "collect", "prices", "--today", "2024-06-05")
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if !strings.Contains(out, "Skipped (fresh): 1") {
		t.Errorf("second run should skip the fresh entity:\n%s", out)
	}
	if market.calls != 1 {
		t.Errorf("market called %d times, want 1", market.calls)
	}
}

func TestCollectPrices_UnknownEntity(t *testing.T) {
	useTestApp(t, func(a *app) { a.market = &fakeMarket{} })
	_, err := execute(t, "collect", "prices", "999999")
	if err == nil || !strings.Contains(err.Error(), "unknown entity") {
		t.Errorf("err = %v, want unknown entity", err)
	}
}

func TestCollectPrices_InvalidToday(t *testing.T) {
	useTestApp(t, nil)
	if _, err := execute(t, "collect", "prices", "--today", "2024-02-30"); err == nil {
		t.Error("expected error for impossible date")
	}
}

func TestCollectNews_MissingCredentials(t *testing.T) {
	useTestApp(t, nil)
	if _, err := execute(t, "entities", "add", "005930", "삼성전자"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := execute(t, "collect", "news")
	if !errors.Is(err, errNoNewsCredentials) {
		t.Errorf("err = %v, want errNoNewsCredentials", err)
	}
}

func TestCollectDisclosures(t *testing.T) {
	src := &fakeDart{filings: []source.Filing{
		{ReceiptNo: "20240315000001", CorpCode: "00126380", CorpName: "삼성전자", ReportName: "사업보고서 (2023.12)", ReceiptDate: "20240315"},
	}}
	dir := useTestApp(t, func(a *app) { a.dart = src })
	if _, err := execute(t, "entities", "add", "005930", "삼성전자", "--corp-code", "00126380"); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := execute(t, "collect", "disclosures", "--today", "2024-06-05", "--json")
	if err != nil {
		t.Fatalf("collect disclosures: %v", err)
	}
	var sum collector.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decoding summary: %v\n%s", err, out)
	}
	if sum.Inserted != 1 || sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(src.years) != 1 || src.years[0] != "2023" {
		t.Errorf("statement years = %v, want [2023]", src.years)
	}
	got, _ := openStore(t, dir).ListDisclosures("00126380", 10)
	if len(got) != 1 {
		t.Errorf("stored %d disclosures, want 1", len(got))
	}
}

func TestCollect_NoEntities(t *testing.T) {
	market := &fakeMarket{}
	useTestApp(t, func(a *app) { a.market = market })
	if _, err := execute(t, "collect", "prices"); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if market.calls != 0 {
		t.Errorf("market called %d times with no entities", market.calls)
	}
}

func TestRepairPrices(t *testing.T) {
	market := &fakeMarket{bars: []source.Bar{bar(3, "71000"), bar(4, "72000")}}
	dir := useTestApp(t, func(a *app) { a.market = market })
	if _, err := execute(t, "entities", "add", "005930", "삼성전자"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := execute(t, "collect", "prices", "--today", "2024-06-04"); err != nil {
		t.Fatalf("collect: %v", err)
	}

	market.bars[1] = bar(4, "72500")
	out, err := execute(t, "repair", "prices", "005930", "--today", "2024-06-04", "--days", "2")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !strings.Contains(out, "Replaced: 1") || !strings.Contains(out, "Unchanged: 1") {
		t.Errorf("repair output:\n%s", out)
	}

	p, err := openStore(t, dir).GetPrice("005930", freshness.NewDate(2024, 6, 4).Time())
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !p.Close.Decimal.Equal(decimal.RequireFromString("72500")) {
		t.Errorf("close = %s, want 72500", p.Close.Decimal)
	}
}

func TestRepairPrices_InvertedRange(t *testing.T) {
	useTestApp(t, nil)
	_, err := execute(t, "repair", "prices", "005930", "--from", "2024-06-05", "--to", "2024-06-01")
	if err == nil || !strings.Contains(err.Error(), "after") {
		t.Errorf("err = %v, want inverted range error", err)
	}
}

func TestStatus(t *testing.T) {
	market := &fakeMarket{bars: []source.Bar{bar(3, "71000")}}
	useTestApp(t, func(a *app) { a.market = market })
	if _, err := execute(t, "entities", "add", "005930", "삼성전자"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := execute(t, "entities", "add", "000660", "SK하이닉스"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := execute(t, "collect", "prices", "005930", "--today", "2024-06-03"); err != nil {
		t.Fatalf("collect: %v", err)
	}

	out, err := execute(t, "status", "--today", "2024-06-03")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"2024-06-03",
		freshness.ReasonCurrent,
		freshness.ReasonNewEntity,
		"Sentiment jobs",
		"prices",
		"stopped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestEnrichOnce(t *testing.T) {
	dir := useTestApp(t, nil)

	store := openStore(t, dir)
	rep := sink.New(store).WriteNews(context.Background(), []storage.NewsArticle{{
		URL:         "https://news.example.com/1",
		EntityID:    "005930",
		EntityName:  "삼성전자",
		Title:       "삼성전자 실적 개선, 배당증액 발표",
		Body:        "영업이익이 전년 대비 크게 늘었다.",
		PublishedAt: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
	}})
	if rep.Inserted != 1 {
		t.Fatalf("seed article: %+v", rep)
	}

	if _, err := execute(t, "enrich", "--once"); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	a, err := store.GetNews("https://news.example.com/1")
	if err != nil {
		t.Fatalf("GetNews: %v", err)
	}
	if !a.SentimentScore.Valid || a.SentimentScore.Float64 <= 0 {
		t.Errorf("sentiment = %+v, want a positive score", a.SentimentScore)
	}
	counts, _ := store.JobCounts(storage.JobNewsSentiment)
	if counts["completed"] != 1 {
		t.Errorf("job counts = %v", counts)
	}
}

func TestConfigShow(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Naver.ClientSecret = "hunter2"
	old := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = old })

	out, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("config show printed a secret")
	}
	if !strings.Contains(out, "naver.client_secret") || !strings.Contains(out, "FDV_NAVER_CLIENT_SECRET") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestConfigSet_UnknownKey(t *testing.T) {
	old := loadConfig
	loadConfig = func() (config.Config, error) { return testConfig(t.TempDir()), nil }
	t.Cleanup(func() { loadConfig = old })

	if _, err := execute(t, "config", "set", "no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestServerState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	old := newAPIClient
	newAPIClient = func(cfg config.Config) *apiClient {
		return &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	}
	defer func() { newAPIClient = old }()

	cfg := testConfig("")
	cfg.Server.Port = 4100
	if got := serverState(context.Background(), cfg); got != "ok on port 4100" {
		t.Errorf("serverState = %q", got)
	}

	ts.Close()
	if got := serverState(context.Background(), cfg); got != "stopped" {
		t.Errorf("serverState after close = %q, want stopped", got)
	}
}

func TestAPIClientAuth(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "my-secret-token", httpClient: ts.Client()}
	resp, err := c.get(context.Background(), "/entities")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want it to mention 401", err)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
}

func TestNewApp_ContentGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>본문</p></body></html>"))
	}))
	defer srv.Close()

	cfg := testConfig(t.TempDir())
	cfg.RateLimit.Content = config.GateConfig{DailyLimit: 1}
	a := newApp(cfg, openStore(t, cfg.Storage.DataDir))

	if _, err := a.content.FetchContent(context.Background(), srv.URL+"/a"); err != nil {
		t.Fatalf("first FetchContent: %v", err)
	}
	if _, err := a.content.FetchContent(context.Background(), srv.URL+"/b"); !errors.Is(err, ratelimit.ErrDailyLimit) {
		t.Errorf("second FetchContent err = %v, want ErrDailyLimit", err)
	}
}
