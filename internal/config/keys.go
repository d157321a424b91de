package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // env names honored when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// envName maps "ratelimit.news.daily_limit" to FDV_RATELIMIT_NEWS_DAILY_LIMIT.
func envName(key string) string {
	return "FDV_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func intKey(key string, field func(cfg *Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func stringKey(key string, field func(cfg *Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func secretKey(key string, field func(cfg *Config) *string, aliases ...string) keySpec {
	s := stringKey(key, field)
	s.secret = true
	s.aliases = aliases
	return s
}

func durationKey(key string, field func(cfg *Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func boolKey(key string, field func(cfg *Config) *bool) keySpec {
	return keySpec{
		key: key, typ: kBool, env: envName(key),
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(bool) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	intKey("server.port", func(c *Config) *int { return &c.Server.Port }),
	secretKey("server.api_token", func(c *Config) *string { return &c.Server.APIToken }),
	stringKey("storage.data_dir", func(c *Config) *string { return &c.Storage.DataDir }),
	stringKey("log.level", func(c *Config) *string { return &c.Log.Level }),
	intKey("collector.workers", func(c *Config) *int { return &c.Collector.Workers }),
	intKey("retry.max_attempts", func(c *Config) *int { return &c.Retry.MaxAttempts }),
	durationKey("retry.base_delay", func(c *Config) *time.Duration { return &c.Retry.BaseDelay }),
	durationKey("ratelimit.market.min_interval", func(c *Config) *time.Duration { return &c.RateLimit.Market.MinInterval }),
	intKey("ratelimit.market.daily_limit", func(c *Config) *int { return &c.RateLimit.Market.DailyLimit }),
	durationKey("ratelimit.news.min_interval", func(c *Config) *time.Duration { return &c.RateLimit.News.MinInterval }),
	intKey("ratelimit.news.daily_limit", func(c *Config) *int { return &c.RateLimit.News.DailyLimit }),
	durationKey("ratelimit.dart.min_interval", func(c *Config) *time.Duration { return &c.RateLimit.Dart.MinInterval }),
	intKey("ratelimit.dart.daily_limit", func(c *Config) *int { return &c.RateLimit.Dart.DailyLimit }),
	durationKey("ratelimit.content.min_interval", func(c *Config) *time.Duration { return &c.RateLimit.Content.MinInterval }),
	intKey("ratelimit.content.daily_limit", func(c *Config) *int { return &c.RateLimit.Content.DailyLimit }),
	intKey("quality.title_cache", func(c *Config) *int { return &c.Quality.TitleCache }),
	intKey("quality.hash_cache", func(c *Config) *int { return &c.Quality.HashCache }),
	stringKey("quality.rules_file", func(c *Config) *string { return &c.Quality.RulesFile }),
	boolKey("freshness.trading_calendar", func(c *Config) *bool { return &c.Freshness.TradingCalendar }),
	intKey("freshness.lookback_days", func(c *Config) *int { return &c.Freshness.LookbackDays }),
	intKey("freshness.max_incremental_gap", func(c *Config) *int { return &c.Freshness.MaxIncrementalGap }),
	intKey("freshness.overlap_days", func(c *Config) *int { return &c.Freshness.OverlapDays }),
	intKey("news.max_per_query", func(c *Config) *int { return &c.News.MaxPerQuery }),
	intKey("news.max_per_entity", func(c *Config) *int { return &c.News.MaxPerEntity }),
	intKey("news.window_days", func(c *Config) *int { return &c.News.WindowDays }),
	durationKey("market.timeout", func(c *Config) *time.Duration { return &c.Market.Timeout }),
	secretKey("dart.api_key", func(c *Config) *string { return &c.Dart.APIKey }, "DART_API_KEY"),
	durationKey("dart.timeout", func(c *Config) *time.Duration { return &c.Dart.Timeout }),
	secretKey("naver.client_id", func(c *Config) *string { return &c.Naver.ClientID }, "NAVER_CLIENT_ID"),
	secretKey("naver.client_secret", func(c *Config) *string { return &c.Naver.ClientSecret }, "NAVER_CLIENT_SECRET"),
	durationKey("naver.timeout", func(c *Config) *time.Duration { return &c.Naver.Timeout }),
	durationKey("naver.content_timeout", func(c *Config) *time.Duration { return &c.Naver.ContentTimeout }),
	durationKey("enrich.poll_interval", func(c *Config) *time.Duration { return &c.Enrich.PollInterval }),
}

// parseValue converts raw to the key's declared type.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer for %s: %w", s.key, err)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool for %s: %w", s.key, err)
		}
		return b, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", s.key, err)
		}
		return d, nil
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || raw == "" {
				continue
			}
			v, err := s.parseValue(raw)
			if err != nil {
				slog.Warn("ignoring config value, using default", "key", s.key, "value", raw, "error", err)
				continue
			}
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		env, raw := s.env, os.Getenv(s.env)
		for _, alias := range s.aliases {
			if raw != "" {
				break
			}
			env, raw = alias, os.Getenv(alias)
		}
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			slog.Warn("ignoring environment variable, using default", "env", env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets the environment left empty.
func applySecrets(cfg *Config, store secretStore) error {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		v, ok, err := store.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading secret %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
