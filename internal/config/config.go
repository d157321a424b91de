package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Collector CollectorConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Quality   QualityConfig
	Freshness FreshnessConfig
	News      NewsConfig
	Market    MarketConfig
	Dart      DartConfig
	Naver     NaverConfig
	Enrich    EnrichConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type CollectorConfig struct {
	Workers int
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// GateConfig bounds one external source. A DailyLimit of 0 is unlimited.
type GateConfig struct {
	MinInterval time.Duration
	DailyLimit  int
}

type RateLimitConfig struct {
	Market  GateConfig
	News    GateConfig
	Dart    GateConfig
	Content GateConfig
}

type QualityConfig struct {
	TitleCache int
	HashCache  int
	RulesFile  string // empty uses the built-in rules
}

type FreshnessConfig struct {
	TradingCalendar   bool
	LookbackDays      int
	MaxIncrementalGap int
	OverlapDays       int
}

type NewsConfig struct {
	MaxPerQuery  int
	MaxPerEntity int
	WindowDays   int
}

type MarketConfig struct {
	Timeout time.Duration
}

type DartConfig struct {
	APIKey  string
	Timeout time.Duration
}

type NaverConfig struct {
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	ContentTimeout time.Duration
}

type EnrichConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Port: 4100},
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Log:       LogConfig{Level: "info"},
		Collector: CollectorConfig{Workers: 3},
		Retry:     RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
		RateLimit: RateLimitConfig{
			Market:  GateConfig{MinInterval: 50 * time.Millisecond},
			News:    GateConfig{MinInterval: 120 * time.Millisecond, DailyLimit: 23000},
			Dart:    GateConfig{MinInterval: 100 * time.Millisecond, DailyLimit: 20000},
			Content: GateConfig{MinInterval: 200 * time.Millisecond},
		},
		Quality: QualityConfig{TitleCache: 1000, HashCache: 5000},
		Freshness: FreshnessConfig{
			LookbackDays:      730,
			MaxIncrementalGap: 7,
			OverlapDays:       3,
		},
		News:   NewsConfig{MaxPerQuery: 30, MaxPerEntity: 50, WindowDays: 4},
		Market: MarketConfig{Timeout: 30 * time.Second},
		Dart:   DartConfig{Timeout: 30 * time.Second},
		Naver: NaverConfig{
			Timeout:        10 * time.Second,
			ContentTimeout: 15 * time.Second,
		},
		Enrich: EnrichConfig{PollInterval: 500 * time.Millisecond},
	}
}

// Load reads configuration from the JSON file backend, environment
// variables, and the secrets store.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/fdv/config.json. A .env
// file in the working directory is loaded first without overriding variables
// already set. Environment variables (FDV_*) override backend values.
// Secrets are read from the environment or from secrets.json in the data
// directory, never from the config file.
//
// Missing API keys are not an error here; the command that needs one reports
// it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), openSecrets)
}

func loadWith(b ConfigBackend, secrets func(dataDir string) secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := applySecrets(&cfg, secrets(cfg.Storage.DataDir)); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects structurally unusable values.
func (c Config) Validate() error {
	checks := []struct {
		key string
		v   int
	}{
		{"collector.workers", c.Collector.Workers},
		{"retry.max_attempts", c.Retry.MaxAttempts},
		{"quality.title_cache", c.Quality.TitleCache},
		{"quality.hash_cache", c.Quality.HashCache},
		{"news.max_per_query", c.News.MaxPerQuery},
		{"news.max_per_entity", c.News.MaxPerEntity},
		{"news.window_days", c.News.WindowDays},
		{"freshness.lookback_days", c.Freshness.LookbackDays},
	}
	for _, ch := range checks {
		if ch.v <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", ch.key, ch.v)
		}
	}
	if c.Freshness.MaxIncrementalGap < 1 || c.Freshness.OverlapDays < 0 {
		return fmt.Errorf("invalid config: freshness.max_incremental_gap must be >= 1 and freshness.overlap_days >= 0")
	}
	for name, g := range map[string]GateConfig{
		"market":  c.RateLimit.Market,
		"news":    c.RateLimit.News,
		"dart":    c.RateLimit.Dart,
		"content": c.RateLimit.Content,
	} {
		if g.DailyLimit < 0 || g.MinInterval < 0 {
			return fmt.Errorf("invalid config: ratelimit.%s must not be negative", name)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
