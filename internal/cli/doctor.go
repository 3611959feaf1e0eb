package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, secrets, state and the Telegram token",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

const doctorTimeout = 15 * time.Second

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printInfo(out, "config directory %s missing, using defaults and environment", configDir)
	} else {
		printCheck(out, true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(out, false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(out, true, "config (%d accounts, %d news categories, %d rss feeds, classifier %s)",
		enabledCount(cfg.TwitterEnabled(), cfg.Sources.Twitter.Accounts),
		enabledCount(cfg.FinnhubEnabled(), cfg.Sources.Finnhub.Categories),
		len(cfg.Sources.RSS.Feeds), cfg.Classifier.Mode)

	// Secrets
	missing := cfg.MissingSecrets(true)
	for _, name := range missing {
		printCheck(out, false, "environment variable %s not set", name)
	}
	if len(missing) == 0 {
		printCheck(out, true, "secrets")
	} else {
		ok = false
	}

	// Classifier and redaction settings
	if _, err := buildClassifier(cfg); err != nil {
		printCheck(out, false, "classifier: %v", err)
		ok = false
	} else {
		printCheck(out, true, "classifier %s", cfg.Classifier.Mode)
	}
	if _, err := buildRedactor(cfg); err != nil {
		printCheck(out, false, "privacy: %v", err)
		ok = false
	}

	// State store
	st, err := openStore(cfg)
	if err != nil {
		printCheck(out, false, "state: %v", err)
		ok = false
	} else {
		total := 0
		for _, kind := range st.SeenKinds() {
			total += st.SeenCount(kind)
		}
		printCheck(out, true, "state %s (%d seen items, %d identities)",
			cfg.Storage.Backend, total, len(st.Identities()))
		_ = st.Close()
	}

	// Telegram token
	tg := cfg.Notify.Telegram
	if tg.BotToken != "" && tg.ChatID != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
		defer cancel()
		if name, err := checkTelegram(ctx, tg); err != nil {
			printCheck(out, false, "telegram: %v", err)
			ok = false
		} else {
			printCheck(out, true, "telegram bot @%s", name)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

func checkTelegram(ctx context.Context, tg config.TelegramConfig) (string, error) {
	bot, err := newTelegram(tg, nil)
	if err != nil {
		return "", err
	}
	return bot.Check(ctx)
}

func enabledCount(enabled bool, names []string) int {
	if !enabled {
		return 0
	}
	return len(names)
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
