package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestYAML(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test yaml: %v", err)
	}
	return path
}

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvPollInterval,
		"TWITTER_BEARER_TOKEN", "FINNHUB_API_KEY", "GROK_API_KEY",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TELEGRAM_TOPIC_ID",
	} {
		t.Setenv(name, "")
	}
}

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv("TEST_X_TOKEN", "x-bearer")
	t.Setenv("TEST_FH_KEY", "fh-key")
	t.Setenv("TEST_LLM_KEY", "sk-secret")
	t.Setenv("TEST_TG_TOKEN", "123:abc")
	t.Setenv("TEST_TG_CHAT", "-100200300")
	t.Setenv("TEST_TG_TOPIC", "42")

	writeTestYAML(t, dir, DefaultConfigFile, `
poll:
  interval: 2m
sources:
  twitter:
    bearer_token_env: TEST_X_TOKEN
    accounts: ["elonmusk", "chamath"]
    every: 10m
    lookback: 15m
    max_results: 10
  finnhub:
    api_key_env: TEST_FH_KEY
    categories: ["crypto"]
    every: 2m
  rss:
    feeds: ["https://example.com/feed.xml"]
classifier:
  mode: llm
  max_attempts: 5
  llm:
    base_url: https://llm.example.com/v1
    model: test-model
    api_key_env: TEST_LLM_KEY
    requests_per_minute: 30
notify:
  telegram:
    bot_token_env: TEST_TG_TOKEN
    chat_id_env: TEST_TG_CHAT
    topic_id_env: TEST_TG_TOPIC
storage:
  backend: sqlite
  path: custom.db
  max_seen_per_type: 500
privacy:
  redact:
    enabled: true
    patterns:
      - "(?i)token"
metrics:
  listen: ":9090"
log:
  level: debug
  format: json
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Poll.Interval.Duration != 2*time.Minute {
		t.Errorf("poll.interval = %v, want 2m", cfg.Poll.Interval.Duration)
	}

	// Sources
	tw := cfg.Sources.Twitter
	if tw.BearerToken != "x-bearer" {
		t.Errorf("twitter bearer = %q, want x-bearer", tw.BearerToken)
	}
	if len(tw.Accounts) != 2 || tw.Accounts[1] != "chamath" {
		t.Errorf("accounts = %v", tw.Accounts)
	}
	if tw.Every.Duration != 10*time.Minute || tw.Lookback.Duration != 15*time.Minute {
		t.Errorf("twitter every/lookback = %v/%v", tw.Every.Duration, tw.Lookback.Duration)
	}
	if tw.MaxResults != 10 {
		t.Errorf("max_results = %d, want 10", tw.MaxResults)
	}
	if cfg.Sources.Finnhub.APIKey != "fh-key" {
		t.Errorf("finnhub key = %q", cfg.Sources.Finnhub.APIKey)
	}
	if len(cfg.Sources.Finnhub.Categories) != 1 {
		t.Errorf("categories = %v", cfg.Sources.Finnhub.Categories)
	}
	if cfg.Sources.Finnhub.Lookback.Duration != 2*time.Minute {
		t.Errorf("finnhub lookback = %v, want poll interval", cfg.Sources.Finnhub.Lookback.Duration)
	}
	if len(cfg.Sources.RSS.Feeds) != 1 {
		t.Errorf("feeds = %v", cfg.Sources.RSS.Feeds)
	}

	// Classifier
	if cfg.Classifier.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Classifier.MaxAttempts)
	}
	if cfg.Classifier.LLM.APIKey != "sk-secret" {
		t.Errorf("llm api_key = %q, want sk-secret", cfg.Classifier.LLM.APIKey)
	}
	if cfg.Classifier.LLM.Model != "test-model" || cfg.Classifier.LLM.RequestsPerMinute != 30 {
		t.Errorf("llm = %+v", cfg.Classifier.LLM)
	}

	// Notify
	tg := cfg.Notify.Telegram
	if tg.BotToken != "123:abc" || tg.ChatID != "-100200300" || tg.TopicID != 42 {
		t.Errorf("telegram = %+v", tg)
	}

	// Storage
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "custom.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.MaxSeenPerType != 500 {
		t.Errorf("max_seen_per_type = %d, want 500", cfg.Storage.MaxSeenPerType)
	}

	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) != 1 {
		t.Errorf("redact = %+v", cfg.Privacy.Redact)
	}
	if cfg.Metrics.Listen != ":9090" {
		t.Errorf("metrics.listen = %q", cfg.Metrics.Listen)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}

	if missing := cfg.MissingSecrets(true); len(missing) != 0 {
		t.Errorf("missing secrets = %v, want none", missing)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Poll.Interval.Duration != DefaultPollInterval {
		t.Errorf("poll.interval = %v, want %v", cfg.Poll.Interval.Duration, DefaultPollInterval)
	}
	if len(cfg.Sources.Twitter.Accounts) != len(DefaultAccounts) {
		t.Errorf("accounts = %v, want defaults", cfg.Sources.Twitter.Accounts)
	}
	if len(cfg.Sources.Finnhub.Categories) != 3 {
		t.Errorf("categories = %v, want defaults", cfg.Sources.Finnhub.Categories)
	}
	if cfg.Sources.Twitter.Every.Duration != DefaultTwitterEvery {
		t.Errorf("twitter every = %v", cfg.Sources.Twitter.Every.Duration)
	}
	if cfg.Classifier.Mode != DefaultClassifierMode {
		t.Errorf("mode = %q, want %q", cfg.Classifier.Mode, DefaultClassifierMode)
	}
	if cfg.Classifier.LLM.BaseURL != DefaultLLMBaseURL || cfg.Classifier.LLM.Model != DefaultLLMModel {
		t.Errorf("llm = %+v", cfg.Classifier.LLM)
	}
	if cfg.Storage.Backend != DefaultStorageBackend || cfg.Storage.Dir != DefaultStateDir {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Notify.Telegram.ChatIDEnv != "TELEGRAM_CHAT_ID" {
		t.Errorf("chat_id_env = %q", cfg.Notify.Telegram.ChatIDEnv)
	}
}

func TestLoad_PollIntervalEnvOverride(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv(EnvPollInterval, "90s")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Interval.Duration != 90*time.Second {
		t.Errorf("poll.interval = %v, want 90s", cfg.Poll.Interval.Duration)
	}
}

func TestLoad_NoSources(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeTestYAML(t, dir, DefaultConfigFile, `
sources:
  twitter:
    disabled: true
  finnhub:
    disabled: true
`)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for no sources")
	}
	if want := "at least one source must be configured"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want containing %q", err, want)
	}
}

func TestLoad_RSSOnly(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	writeTestYAML(t, dir, DefaultConfigFile, `
sources:
  twitter:
    disabled: true
  finnhub:
    disabled: true
  rss:
    feeds: ["https://example.com/feed.xml"]
classifier:
  mode: keywords
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TwitterEnabled() || cfg.FinnhubEnabled() {
		t.Error("twitter/finnhub should be disabled")
	}
	if missing := cfg.MissingSecrets(false); len(missing) != 0 {
		t.Errorf("missing = %v, want none for rss+keywords", missing)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", "classifier:\n  mode: magic\n", "classifier.mode"},
		{"bad backend", "storage:\n  backend: redis\n", "storage.backend"},
		{"interval too short", "poll:\n  interval: 1s\n", "poll.interval"},
		{"bad duration", "poll:\n  interval: soon\n", "parse duration"},
		{"max results", "sources:\n  twitter:\n    max_results: 500\n", "max_results"},
		{"negative cap", "storage:\n  max_seen_per_type: -1\n", "max_seen_per_type"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"malformed", "poll: [", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			clearEnv(t)
			writeTestYAML(t, dir, DefaultConfigFile, tt.yaml)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_BadTopicID(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv("TELEGRAM_TOPIC_ID", "general")

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "topic id must be numeric") {
		t.Fatalf("err = %v, want topic id error", err)
	}
}

func TestLoad_EmptyDir(t *testing.T) {
	if _, err := Load("  "); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestRequireSecrets(t *testing.T) {
	dir := t.TempDir()
	clearEnv(t)
	t.Setenv("TWITTER_BEARER_TOKEN", "tok")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	err = cfg.RequireSecrets(true)
	if err == nil {
		t.Fatal("expected missing secrets error")
	}
	for _, name := range []string{"FINNHUB_API_KEY", "GROK_API_KEY", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
	if strings.Contains(err.Error(), "TWITTER_BEARER_TOKEN") {
		t.Errorf("error %q mentions a variable that is set", err)
	}

	missing := cfg.MissingSecrets(false)
	for _, name := range missing {
		if strings.HasPrefix(name, "TELEGRAM_") {
			t.Errorf("telegram secret %s reported without notify", name)
		}
	}
}
