package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/config"
	"github.com/ppiankov/marketpan/internal/poll"
	"github.com/ppiankov/marketpan/internal/stats"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll sources and send alerts until interrupted",
	RunE:  runAction,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

const shutdownTimeout = 5 * time.Second

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(true); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close state", "error", err)
		}
	}()

	tg := cfg.Notify.Telegram
	bot, err := newTelegram(tg, logger)
	if err != nil {
		return err
	}
	logger.Info("telegram connected", "bot", bot.Username(), "chat", tg.ChatID, "topic", tg.TopicID)

	sources, resolver, err := buildSources(cfg, st, logger)
	if err != nil {
		return err
	}
	if resolver != nil {
		resolved, failures := resolver.ResolveAll(ctx, cfg.Sources.Twitter.Accounts)
		logger.Info("accounts resolved", "resolved", len(resolved), "failed", len(failures))
	}

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	redactor, err := buildRedactor(cfg)
	if err != nil {
		return err
	}

	tracker := stats.NewTracker()
	var observer poll.CycleObserver
	var wg sync.WaitGroup
	if cfg.Metrics.Listen != "" {
		exporter := stats.NewExporter(tracker)
		observer = exporter
		srv := newMetricsServer(cfg.Metrics.Listen, exporter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMetrics(ctx, srv, logger)
		}()
	}

	poller, err := poll.New(poll.Options{
		Sources:     sources,
		Store:       st,
		Classifier:  classifier,
		Notifier:    bot,
		Tracker:     tracker,
		Interval:    cfg.Poll.Interval.Duration,
		Every:       pollEvery(cfg),
		MaxAttempts: cfg.Classifier.MaxAttempts,
		Redactor:    redactor,
		Observer:    observer,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// The listener is not waited for: a pending long poll ends on its own.
	go func() {
		if err := bot.Listen(ctx, tracker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("telegram listener stopped", "error", err)
		}
	}()

	logRunSummary(logger, cfg, len(sources))
	err = poller.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("poll loop: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func logRunSummary(logger *slog.Logger, cfg *config.Config, sources int) {
	logger.Info("starting",
		"version", Version,
		"sources", sources,
		"interval", cfg.Poll.Interval.Duration,
		"classifier", cfg.Classifier.Mode,
		"storage", cfg.Storage.Backend,
	)
}

func newMetricsServer(addr string, exporter *stats.Exporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveMetrics runs srv until ctx is done.
func serveMetrics(ctx context.Context, srv *http.Server, logger *slog.Logger) {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", srv.Addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}
}
