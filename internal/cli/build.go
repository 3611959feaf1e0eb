package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/marketpan/internal/classify"
	"github.com/ppiankov/marketpan/internal/config"
	"github.com/ppiankov/marketpan/internal/notify"
	"github.com/ppiankov/marketpan/internal/privacy"
	"github.com/ppiankov/marketpan/internal/resolve"
	"github.com/ppiankov/marketpan/internal/source"
	"github.com/ppiankov/marketpan/internal/state"
)

// loadConfig loads config.yaml from the config directory and builds the
// logger it names.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// telegramEndpoint overrides the Bot API endpoint in tests.
var telegramEndpoint string

func newTelegram(tg config.TelegramConfig, logger *slog.Logger) (*notify.Telegram, error) {
	if logger != nil {
		logger = logger.With("component", "telegram")
	}
	return notify.NewTelegram(notify.Options{
		Token:       tg.BotToken,
		ChatID:      tg.ChatID,
		TopicID:     tg.TopicID,
		APIEndpoint: telegramEndpoint,
		Logger:      logger,
	})
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err := state.OpenSQLite(cfg.Storage.Path, cfg.Storage.MaxSeenPerType)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state: %w", err)
		}
		return st, nil
	default:
		st, err := state.OpenJSON(cfg.Storage.Dir, cfg.Storage.MaxSeenPerType)
		if err != nil {
			return nil, fmt.Errorf("open json state: %w", err)
		}
		return st, nil
	}
}

func newTwitterClient(cfg *config.Config) (*source.TwitterClient, error) {
	tw := cfg.Sources.Twitter
	client, err := source.NewTwitterClient(tw.BearerToken, tw.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("twitter client: %w", err)
	}
	return client, nil
}

// buildSources creates one source per configured account, news category
// and feed. Twitter sources share one client and one resolver.
func buildSources(cfg *config.Config, st state.Store, logger *slog.Logger) ([]source.Source, *resolve.Resolver, error) {
	var (
		sources  []source.Source
		resolver *resolve.Resolver
	)

	if cfg.TwitterEnabled() {
		tw := cfg.Sources.Twitter
		client, err := newTwitterClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		resolver = resolve.New(st, client, logger.With("component", "resolve"))
		for _, account := range tw.Accounts {
			src, err := source.NewTwitter(client, resolver, account, tw.MaxResults, tw.Lookback.Duration)
			if err != nil {
				return nil, nil, fmt.Errorf("twitter source %s: %w", account, err)
			}
			sources = append(sources, src)
		}
	}

	if cfg.FinnhubEnabled() {
		fh := cfg.Sources.Finnhub
		client, err := source.NewFinnhubClient(fh.APIKey, fh.BaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("finnhub client: %w", err)
		}
		for _, category := range fh.Categories {
			src, err := source.NewFinnhub(client, category, fh.Lookback.Duration)
			if err != nil {
				return nil, nil, fmt.Errorf("finnhub source %s: %w", category, err)
			}
			sources = append(sources, src)
		}
	}

	for _, feed := range cfg.Sources.RSS.Feeds {
		src, err := source.NewRSS(feed, cfg.Sources.RSS.Lookback.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("rss source %s: %w", feed, err)
		}
		sources = append(sources, src)
	}

	return sources, resolver, nil
}

// pollEvery maps source types to their polling periods. Zero means every tick.
func pollEvery(cfg *config.Config) map[string]time.Duration {
	return map[string]time.Duration{
		source.KindTweets: cfg.Sources.Twitter.Every.Duration,
		source.KindNews:   cfg.Sources.Finnhub.Every.Duration,
		source.KindRSS:    cfg.Sources.RSS.Every.Duration,
	}
}

func buildClassifier(cfg *config.Config) (classify.Classifier, error) {
	cl := cfg.Classifier
	if cl.Mode == "keywords" {
		kc, err := classify.NewKeyword(classify.KeywordOptions{
			Weights:   cl.Keywords.Weights,
			Bullish:   cl.Keywords.Bullish,
			Bearish:   cl.Keywords.Bearish,
			Assets:    cl.Keywords.Assets,
			Threshold: cl.Keywords.Threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("keyword classifier: %w", err)
		}
		return kc, nil
	}

	llm, err := classify.NewLLM(classify.LLMOptions{
		APIKey:            cl.LLM.APIKey,
		BaseURL:           cl.LLM.BaseURL,
		Model:             cl.LLM.Model,
		RequestsPerMinute: cl.LLM.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("llm classifier: %w", err)
	}
	return llm, nil
}

// buildRedactor returns nil when redaction is disabled; a nil Redactor
// passes text through.
func buildRedactor(cfg *config.Config) (*privacy.Redactor, error) {
	if !cfg.Privacy.Redact.Enabled {
		return nil, nil
	}
	r, err := privacy.New(cfg.Privacy.Redact.Patterns)
	if err != nil {
		return nil, fmt.Errorf("redact patterns: %w", err)
	}
	return r, nil
}
