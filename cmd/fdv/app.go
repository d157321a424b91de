package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/financevibe/fdv/internal/collector"
	"github.com/financevibe/fdv/internal/config"
	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/quality"
	"github.com/financevibe/fdv/internal/ratelimit"
	"github.com/financevibe/fdv/internal/sink"
	"github.com/financevibe/fdv/internal/source"
	"github.com/financevibe/fdv/internal/source/dart"
	"github.com/financevibe/fdv/internal/source/market"
	"github.com/financevibe/fdv/internal/source/news"
	"github.com/financevibe/fdv/internal/storage"
)

var (
	errNoNewsCredentials = errors.New("naver credentials not configured (set naver.client_id and naver.client_secret)")
	errNoDartKey         = errors.New("dart api key not configured (set dart.api_key)")
)

// disclosureSource is the registry client, including the corp code listing
// used when seeding entities.
type disclosureSource interface {
	source.DisclosureDataSource
	CorpCodes(ctx context.Context) (map[string]string, error)
}

// app bundles what every command needs. Sources that require credentials are
// nil when the credentials are missing.
type app struct {
	cfg     config.Config
	store   *storage.Store
	gate    *freshness.Gate
	market  source.MarketDataSource
	news    source.NewsScrapeSource
	content source.ContentFetcher
	dart    disclosureSource
}

// openApp loads configuration, sets up logging and opens the store. Tests
// replace it to run commands against fakes.
var openApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return newApp(cfg, store), nil
}

func newApp(cfg config.Config, store *storage.Store) *app {
	a := &app{
		cfg:   cfg,
		store: store,
		gate:  newFreshnessGate(cfg.Freshness, store),
	}
	a.market = market.NewClient(
		market.WithTimeout(cfg.Market.Timeout),
		market.WithGate(newRateGate("market", cfg.RateLimit.Market)),
	)
	if cfg.Naver.ClientID != "" && cfg.Naver.ClientSecret != "" {
		a.news = news.NewClient(cfg.Naver.ClientID, cfg.Naver.ClientSecret,
			news.WithTimeout(cfg.Naver.Timeout),
			news.WithGate(newRateGate("naver", cfg.RateLimit.News)),
		)
	}
	a.content = news.NewExtractor(
		news.WithContentTimeout(cfg.Naver.ContentTimeout),
		news.WithContentGate(newRateGate("content", cfg.RateLimit.Content)),
	)
	if cfg.Dart.APIKey != "" {
		a.dart = dart.NewClient(cfg.Dart.APIKey,
			dart.WithTimeout(cfg.Dart.Timeout),
			dart.WithGate(newRateGate("dart", cfg.RateLimit.Dart)),
		)
	}
	return a
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

func newRateGate(name string, g config.GateConfig) *ratelimit.Gate {
	return ratelimit.New(name, g.MinInterval, g.DailyLimit, nil)
}

func newFreshnessGate(cfg config.FreshnessConfig, store freshness.MetadataLookup) *freshness.Gate {
	opts := []freshness.GateOption{freshness.WithPolicy(freshnessPolicy(cfg))}
	if cfg.TradingCalendar {
		opts = append(opts, freshness.WithCalendar(freshness.KRX()))
	}
	return freshness.NewGate(store, opts...)
}

func freshnessPolicy(cfg config.FreshnessConfig) freshness.Policy {
	return freshness.Policy{
		LookbackDays:      cfg.LookbackDays,
		MaxIncrementalGap: cfg.MaxIncrementalGap,
		OverlapDays:       cfg.OverlapDays,
	}
}

func (a *app) options() collector.Options {
	return collector.Options{
		Workers: a.cfg.Collector.Workers,
		Retry: source.RetryPolicy{
			MaxAttempts: a.cfg.Retry.MaxAttempts,
			BaseDelay:   a.cfg.Retry.BaseDelay,
		},
	}
}

func (a *app) priceCollector() *collector.PriceCollector {
	return collector.NewPriceCollector(a.store, a.market, sink.New(a.store), a.gate, a.options())
}

func (a *app) newsCollector() (*collector.NewsCollector, error) {
	if a.news == nil {
		return nil, errNoNewsCredentials
	}
	filter, err := a.qualityFilter()
	if err != nil {
		return nil, err
	}
	opts := collector.NewsOptions{
		Options:      a.options(),
		MaxPerQuery:  a.cfg.News.MaxPerQuery,
		MaxPerEntity: a.cfg.News.MaxPerEntity,
		WindowDays:   a.cfg.News.WindowDays,
		Loc:          ratelimit.Seoul(),
	}
	return collector.NewNewsCollector(a.news, a.content, filter, sink.New(a.store), a.store, opts), nil
}

func (a *app) disclosureCollector(years []string) (*collector.DisclosureCollector, error) {
	if a.dart == nil {
		return nil, errNoDartKey
	}
	opts := collector.DisclosureOptions{Options: a.options(), Years: years}
	return collector.NewDisclosureCollector(a.dart, sink.New(a.store), a.store, opts), nil
}

func (a *app) qualityFilter() (*quality.Filter, error) {
	rules := quality.DefaultRules()
	if path := a.cfg.Quality.RulesFile; path != "" {
		var err error
		if rules, err = quality.LoadRules(path); err != nil {
			return nil, fmt.Errorf("loading quality rules: %w", err)
		}
	}
	return quality.New(quality.Config{
		Rules:         rules,
		TitleCapacity: a.cfg.Quality.TitleCache,
		HashCapacity:  a.cfg.Quality.HashCache,
	}), nil
}

// entities resolves command arguments to stored entities. No arguments
// selects every entity in market, or all of them when market is empty.
func (a *app) entities(ids []string, market string) ([]storage.Entity, error) {
	if len(ids) == 0 {
		return a.store.ListEntities(market)
	}
	out := make([]storage.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := a.store.GetEntity(id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("unknown entity %q (add it with fdv entities add)", id)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// today is the reference day for a run: the --today flag when given,
// otherwise the current day in Seoul.
func today(flag string) (freshness.Date, error) {
	if flag == "" {
		return freshness.Today(ratelimit.Seoul()), nil
	}
	d, err := freshness.ParseDate(flag)
	if err != nil {
		return freshness.Date{}, fmt.Errorf("invalid --today: %w", err)
	}
	return d, nil
}
