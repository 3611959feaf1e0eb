package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultStateDir       = ".marketpan/data"
	DefaultSQLitePath     = ".marketpan/marketpan.db"
	DefaultPollInterval   = 5 * time.Minute
	MinPollInterval       = 10 * time.Second
	DefaultTwitterEvery   = 30 * time.Minute
	DefaultTwitterResults = 5
	DefaultClassifierMode = "llm"
	DefaultLLMBaseURL     = "https://api.x.ai/v1"
	DefaultLLMModel       = "grok-2-latest"
	DefaultLLMRPM         = 60
	DefaultMaxAttempts    = 3
	DefaultKeywordMin     = 3
	DefaultStorageBackend = "json"
	DefaultLogLevel       = "info"

	// EnvPollInterval overrides poll.interval when set (Go duration syntax).
	EnvPollInterval = "MARKETPAN_POLL_INTERVAL"
)

// Default account and category lists used when config.yaml does not name any.
var (
	DefaultAccounts = []string{
		"elonmusk", "michaelsaylor", "CathieDWood", "brian_armstrong",
		"cz_binance", "VitalikButerin", "APompliano", "RaoulGMI",
		"chamath", "garyvee", "realDonaldTrump",
	}
	DefaultCategories = []string{"forex", "crypto", "merger"}
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Poll       PollConfig       `yaml:"poll"`
	Sources    SourcesConfig    `yaml:"sources"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Notify     NotifyConfig     `yaml:"notify"`
	Storage    StorageConfig    `yaml:"storage"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

type PollConfig struct {
	Interval Duration `yaml:"interval"`
}

type SourcesConfig struct {
	Twitter TwitterConfig `yaml:"twitter"`
	Finnhub FinnhubConfig `yaml:"finnhub"`
	RSS     RSSConfig     `yaml:"rss"`
}

type TwitterConfig struct {
	Disabled       bool     `yaml:"disabled"`
	BearerTokenEnv string   `yaml:"bearer_token_env"`
	Accounts       []string `yaml:"accounts"`
	Every          Duration `yaml:"every"`
	Lookback       Duration `yaml:"lookback"`
	MaxResults     int      `yaml:"max_results"`
	BaseURL        string   `yaml:"base_url"`

	// Resolved from env var at load time.
	BearerToken string `yaml:"-"`
}

type FinnhubConfig struct {
	Disabled   bool     `yaml:"disabled"`
	APIKeyEnv  string   `yaml:"api_key_env"`
	Categories []string `yaml:"categories"`
	Every      Duration `yaml:"every"`
	Lookback   Duration `yaml:"lookback"`
	BaseURL    string   `yaml:"base_url"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type RSSConfig struct {
	Feeds    []string `yaml:"feeds"`
	Every    Duration `yaml:"every"`
	Lookback Duration `yaml:"lookback"`
}

type ClassifierConfig struct {
	Mode        string         `yaml:"mode"`
	MaxAttempts int            `yaml:"max_attempts"`
	LLM         LLMConfig      `yaml:"llm"`
	Keywords    KeywordsConfig `yaml:"keywords"`
}

type LLMConfig struct {
	BaseURL           string `yaml:"base_url"`
	Model             string `yaml:"model"`
	APIKeyEnv         string `yaml:"api_key_env"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type KeywordsConfig struct {
	Weights   map[string]int `yaml:"weights"`
	Bullish   []string       `yaml:"bullish"`
	Bearish   []string       `yaml:"bearish"`
	Assets    []string       `yaml:"assets"`
	Threshold int            `yaml:"threshold"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatIDEnv   string `yaml:"chat_id_env"`
	TopicIDEnv  string `yaml:"topic_id_env"`

	// Resolved from env vars at load time.
	BotToken string `yaml:"-"`
	ChatID   string `yaml:"-"`
	TopicID  int    `yaml:"-"`
}

type StorageConfig struct {
	Backend        string `yaml:"backend"`
	Dir            string `yaml:"dir"`
	Path           string `yaml:"path"`
	MaxSeenPerType int    `yaml:"max_seen_per_type"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
// A missing config.yaml is not an error: everything then comes from defaults
// and the environment.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	var cfg Config
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// env-only configuration
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := resolveEnv(&cfg); err != nil {
		return nil, fmt.Errorf("resolve env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = DefaultPollInterval
	}

	tw := &cfg.Sources.Twitter
	if tw.BearerTokenEnv == "" {
		tw.BearerTokenEnv = "TWITTER_BEARER_TOKEN"
	}
	if tw.Accounts == nil {
		tw.Accounts = append([]string(nil), DefaultAccounts...)
	}
	if tw.Every.Duration == 0 {
		tw.Every.Duration = DefaultTwitterEvery
	}
	if tw.Lookback.Duration == 0 {
		tw.Lookback.Duration = tw.Every.Duration
	}
	if tw.MaxResults == 0 {
		tw.MaxResults = DefaultTwitterResults
	}

	fh := &cfg.Sources.Finnhub
	if fh.APIKeyEnv == "" {
		fh.APIKeyEnv = "FINNHUB_API_KEY"
	}
	if fh.Categories == nil {
		fh.Categories = append([]string(nil), DefaultCategories...)
	}
	if fh.Lookback.Duration == 0 {
		fh.Lookback.Duration = cfg.Poll.Interval.Duration
	}

	if cfg.Sources.RSS.Lookback.Duration == 0 {
		cfg.Sources.RSS.Lookback.Duration = 24 * time.Hour
	}

	cl := &cfg.Classifier
	if cl.Mode == "" {
		cl.Mode = DefaultClassifierMode
	}
	if cl.MaxAttempts == 0 {
		cl.MaxAttempts = DefaultMaxAttempts
	}
	if cl.LLM.BaseURL == "" {
		cl.LLM.BaseURL = DefaultLLMBaseURL
	}
	if cl.LLM.Model == "" {
		cl.LLM.Model = DefaultLLMModel
	}
	if cl.LLM.APIKeyEnv == "" {
		cl.LLM.APIKeyEnv = "GROK_API_KEY"
	}
	if cl.LLM.RequestsPerMinute == 0 {
		cl.LLM.RequestsPerMinute = DefaultLLMRPM
	}
	if cl.Keywords.Threshold == 0 {
		cl.Keywords.Threshold = DefaultKeywordMin
	}

	tg := &cfg.Notify.Telegram
	if tg.BotTokenEnv == "" {
		tg.BotTokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if tg.ChatIDEnv == "" {
		tg.ChatIDEnv = "TELEGRAM_CHAT_ID"
	}
	if tg.TopicIDEnv == "" {
		tg.TopicIDEnv = "TELEGRAM_TOPIC_ID"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultStateDir
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultSQLitePath
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func resolveEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvPollInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		cfg.Poll.Interval.Duration = d
	}

	cfg.Sources.Twitter.BearerToken = os.Getenv(cfg.Sources.Twitter.BearerTokenEnv)
	cfg.Sources.Finnhub.APIKey = os.Getenv(cfg.Sources.Finnhub.APIKeyEnv)
	cfg.Classifier.LLM.APIKey = os.Getenv(cfg.Classifier.LLM.APIKeyEnv)

	tg := &cfg.Notify.Telegram
	tg.BotToken = os.Getenv(tg.BotTokenEnv)
	tg.ChatID = strings.TrimSpace(os.Getenv(tg.ChatIDEnv))
	if v := strings.TrimSpace(os.Getenv(tg.TopicIDEnv)); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: topic id must be numeric: %w", tg.TopicIDEnv, err)
		}
		tg.TopicID = id
	}
	return nil
}

func validate(cfg *Config) error {
	if !cfg.TwitterEnabled() && !cfg.FinnhubEnabled() && len(cfg.Sources.RSS.Feeds) == 0 {
		return errors.New("sources: at least one source must be configured")
	}

	if cfg.Poll.Interval.Duration < MinPollInterval {
		return fmt.Errorf("poll.interval: %s is below the minimum %s", cfg.Poll.Interval.Duration, MinPollInterval)
	}
	if cfg.Sources.Twitter.MaxResults < 5 || cfg.Sources.Twitter.MaxResults > 100 {
		return fmt.Errorf("sources.twitter.max_results: %d out of range 5..100", cfg.Sources.Twitter.MaxResults)
	}

	switch cfg.Classifier.Mode {
	case "llm", "keywords":
		// valid
	default:
		return fmt.Errorf("classifier.mode: unknown mode %q (want llm or keywords)", cfg.Classifier.Mode)
	}
	if cfg.Classifier.MaxAttempts < 1 {
		return fmt.Errorf("classifier.max_attempts: must be at least 1")
	}

	switch cfg.Storage.Backend {
	case "json", "sqlite":
		// valid
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want json or sqlite)", cfg.Storage.Backend)
	}
	if cfg.Storage.MaxSeenPerType < 0 {
		return errors.New("storage.max_seen_per_type: must not be negative")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}

	return nil
}

// TwitterEnabled reports whether the X/Twitter source has accounts to poll.
func (c *Config) TwitterEnabled() bool {
	return !c.Sources.Twitter.Disabled && len(c.Sources.Twitter.Accounts) > 0
}

// FinnhubEnabled reports whether the Finnhub source has categories to poll.
func (c *Config) FinnhubEnabled() bool {
	return !c.Sources.Finnhub.Disabled && len(c.Sources.Finnhub.Categories) > 0
}

// MissingSecrets lists the environment variables that enabled components
// need but that are unset. Telegram secrets are only required when notify is true.
func (c *Config) MissingSecrets(notify bool) []string {
	var missing []string
	if c.TwitterEnabled() && c.Sources.Twitter.BearerToken == "" {
		missing = append(missing, c.Sources.Twitter.BearerTokenEnv)
	}
	if c.FinnhubEnabled() && c.Sources.Finnhub.APIKey == "" {
		missing = append(missing, c.Sources.Finnhub.APIKeyEnv)
	}
	if c.Classifier.Mode == "llm" && c.Classifier.LLM.APIKey == "" {
		missing = append(missing, c.Classifier.LLM.APIKeyEnv)
	}
	if notify {
		if c.Notify.Telegram.BotToken == "" {
			missing = append(missing, c.Notify.Telegram.BotTokenEnv)
		}
		if c.Notify.Telegram.ChatID == "" {
			missing = append(missing, c.Notify.Telegram.ChatIDEnv)
		}
	}
	return missing
}

// RequireSecrets returns an error naming every missing environment variable.
func (c *Config) RequireSecrets(notify bool) error {
	missing := c.MissingSecrets(notify)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
}
