package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// memBackend is a test double for ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// mockSecrets is a test double for secretStore.
type mockSecrets map[string]string

func (m mockSecrets) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mockSecrets) Set(key, val string) error {
	m[key] = val
	return nil
}

func secretsOf(m mockSecrets) func(string) secretStore {
	return func(string) secretStore { return m }
}

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// TestDefaults verifies all default values are applied with an empty backend.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(), secretsOf(mockSecrets{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Collector.Workers != 3 {
		t.Errorf("Collector.Workers = %d, want 3", cfg.Collector.Workers)
	}
	if cfg.Quality.TitleCache != 1000 || cfg.Quality.HashCache != 5000 {
		t.Errorf("Quality = %+v, want 1000/5000", cfg.Quality)
	}
	if cfg.RateLimit.News.MinInterval != 120*time.Millisecond || cfg.RateLimit.News.DailyLimit != 23000 {
		t.Errorf("RateLimit.News = %+v", cfg.RateLimit.News)
	}
	if cfg.RateLimit.Content.MinInterval != 200*time.Millisecond || cfg.RateLimit.Content.DailyLimit != 0 {
		t.Errorf("RateLimit.Content = %+v", cfg.RateLimit.Content)
	}
	if cfg.RateLimit.Dart.DailyLimit != 20000 || cfg.RateLimit.Market.DailyLimit != 0 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.News.WindowDays != 4 || cfg.News.MaxPerQuery != 30 || cfg.News.MaxPerEntity != 50 {
		t.Errorf("News = %+v", cfg.News)
	}
	if cfg.Freshness.TradingCalendar || cfg.Freshness.LookbackDays != 730 {
		t.Errorf("Freshness = %+v", cfg.Freshness)
	}
	if cfg.Naver.ContentTimeout != 15*time.Second || cfg.Enrich.PollInterval != 500*time.Millisecond {
		t.Errorf("durations = %v %v", cfg.Naver.ContentTimeout, cfg.Enrich.PollInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b.ints["collector.workers"] = 5
	b.strs["ratelimit.news.min_interval"] = "200ms"
	b.strs["freshness.trading_calendar"] = "true"
	b.strs["quality.rules_file"] = "/etc/fdv/rules.yaml"
	// Secrets in the config file are ignored.
	b.strs["dart.api_key"] = "from-file"

	cfg, err := loadWith(b, secretsOf(mockSecrets{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Collector.Workers != 5 {
		t.Errorf("Collector.Workers = %d, want 5", cfg.Collector.Workers)
	}
	if cfg.RateLimit.News.MinInterval != 200*time.Millisecond {
		t.Errorf("MinInterval = %v, want 200ms", cfg.RateLimit.News.MinInterval)
	}
	if !cfg.Freshness.TradingCalendar {
		t.Error("TradingCalendar = false, want true")
	}
	if cfg.Quality.RulesFile != "/etc/fdv/rules.yaml" {
		t.Errorf("RulesFile = %q", cfg.Quality.RulesFile)
	}
	if cfg.Dart.APIKey != "" {
		t.Errorf("Dart.APIKey = %q, want it not read from the config file", cfg.Dart.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	b := newMemBackend()
	b.ints["collector.workers"] = 5

	t.Setenv("FDV_COLLECTOR_WORKERS", "7")
	t.Setenv("FDV_NAVER_TIMEOUT", "3s")
	t.Setenv("FDV_LOG_LEVEL", "debug")

	cfg, err := loadWith(b, secretsOf(mockSecrets{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Collector.Workers != 7 {
		t.Errorf("Collector.Workers = %d, want 7", cfg.Collector.Workers)
	}
	if cfg.Naver.Timeout != 3*time.Second {
		t.Errorf("Naver.Timeout = %v, want 3s", cfg.Naver.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	b := newMemBackend()
	b.strs["retry.base_delay"] = "soon"
	t.Setenv("FDV_MARKET_TIMEOUT", "forever")
	t.Setenv("FDV_SERVER_PORT", "eighty")

	cfg, err := loadWith(b, secretsOf(mockSecrets{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want default 1s", cfg.Retry.BaseDelay)
	}
	if cfg.Market.Timeout != 30*time.Second {
		t.Errorf("Market.Timeout = %v, want default 30s", cfg.Market.Timeout)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default 4100", cfg.Server.Port)
	}
}

func TestSecrets(t *testing.T) {
	unsetEnv(t, "FDV_DART_API_KEY", "DART_API_KEY", "FDV_NAVER_CLIENT_ID", "NAVER_CLIENT_ID", "FDV_SERVER_API_TOKEN")
	t.Setenv("NAVER_CLIENT_ID", "alias-id")
	t.Setenv("FDV_SERVER_API_TOKEN", "env-token")

	secrets := mockSecrets{
		"dart.api_key":        "stored-dart",
		"naver.client_id":     "stored-id",
		"naver.client_secret": "stored-secret",
		"server.api_token":    "stored-token",
	}
	cfg, err := loadWith(newMemBackend(), secretsOf(secrets))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dart.APIKey != "stored-dart" {
		t.Errorf("Dart.APIKey = %q, want stored value", cfg.Dart.APIKey)
	}
	if cfg.Naver.ClientID != "alias-id" {
		t.Errorf("Naver.ClientID = %q, want the unprefixed env value", cfg.Naver.ClientID)
	}
	if cfg.Naver.ClientSecret != "stored-secret" {
		t.Errorf("Naver.ClientSecret = %q", cfg.Naver.ClientSecret)
	}
	if cfg.Server.APIToken != "env-token" {
		t.Errorf("Server.APIToken = %q, want env value", cfg.Server.APIToken)
	}
}

// TestMissingKeysAreNotAnError verifies Load leaves key checks to commands.
func TestMissingKeysAreNotAnError(t *testing.T) {
	unsetEnv(t, "FDV_DART_API_KEY", "DART_API_KEY")
	cfg, err := loadWith(newMemBackend(), secretsOf(mockSecrets{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dart.APIKey != "" {
		t.Errorf("Dart.APIKey = %q, want empty", cfg.Dart.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Collector.Workers = 0 }},
		{"zero title cache", func(c *Config) { c.Quality.TitleCache = 0 }},
		{"negative hash cache", func(c *Config) { c.Quality.HashCache = -1 }},
		{"negative daily limit", func(c *Config) { c.RateLimit.News.DailyLimit = -5 }},
		{"zero gap", func(c *Config) { c.Freshness.MaxIncrementalGap = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	dir := t.TempDir()
	b := newFileBackend(filepath.Join(dir, "config.json"))
	secrets := openSecrets(dir)

	if err := setKeyWith(b, secrets, "collector.workers", "6"); err != nil {
		t.Fatalf("SetKey workers: %v", err)
	}
	if err := setKeyWith(b, secrets, "naver.timeout", "4s"); err != nil {
		t.Fatalf("SetKey timeout: %v", err)
	}
	if err := setKeyWith(b, secrets, "dart.api_key", "secret-value"); err != nil {
		t.Fatalf("SetKey secret: %v", err)
	}

	for _, bad := range [][2]string{{"collector.workers", "six"}, {"naver.timeout", "4"}, {"nope", "1"}} {
		if err := setKeyWith(b, secrets, bad[0], bad[1]); err == nil {
			t.Errorf("SetKey(%s, %s): expected error", bad[0], bad[1])
		}
	}

	unsetEnv(t, "FDV_DART_API_KEY", "DART_API_KEY", "FDV_COLLECTOR_WORKERS", "FDV_NAVER_TIMEOUT", "FDV_STORAGE_DATA_DIR")
	t.Setenv("XDG_DATA_HOME", dir)
	reloaded := newFileBackend(filepath.Join(dir, "config.json"))
	cfg, err := loadWith(reloaded, openSecrets)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Collector.Workers != 6 || cfg.Naver.Timeout != 4*time.Second {
		t.Errorf("reloaded = workers %d timeout %v", cfg.Collector.Workers, cfg.Naver.Timeout)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	if string(raw) == "" || contains(string(raw), "secret-value") {
		t.Errorf("config file = %s, want no secrets", raw)
	}
	if v, ok, _ := secrets.Get("dart.api_key"); !ok || v != "secret-value" {
		t.Errorf("secret = %q, %v", v, ok)
	}
	info, err := os.Stat(secretsFilePath(dir))
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Dart.APIKey = "abc"

	seen := 0
	for _, k := range ShowAll(cfg) {
		switch k.Key {
		case "dart.api_key":
			seen++
			if !k.Secret || k.Value == "abc" {
				t.Errorf("dart.api_key shown as %+v", k)
			}
		case "naver.client_id":
			seen++
			if k.Value != "" {
				t.Errorf("unset secret shown as %q", k.Value)
			}
		case "ratelimit.news.daily_limit":
			seen++
			if k.Value != "23000" || k.EnvVar != "FDV_RATELIMIT_NEWS_DAILY_LIMIT" {
				t.Errorf("daily limit shown as %+v", k)
			}
		}
	}
	if seen != 3 {
		t.Errorf("saw %d of 3 expected keys", seen)
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys = %d keys, want %d", len(ValidKeys()), len(specs))
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	unsetEnv(t, "FDV_DART_API_KEY", "DART_API_KEY", "FDV_STORAGE_DATA_DIR")
	t.Setenv("FDV_NEWS_WINDOW_DAYS", "2")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DART_API_KEY=dotenv-key\nFDV_NEWS_WINDOW_DAYS=9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dart.APIKey != "dotenv-key" {
		t.Errorf("Dart.APIKey = %q, want value from .env", cfg.Dart.APIKey)
	}
	if cfg.News.WindowDays != 2 {
		t.Errorf("WindowDays = %d, want the already-set env value", cfg.News.WindowDays)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data", "fdv") {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "error", "INFO"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
