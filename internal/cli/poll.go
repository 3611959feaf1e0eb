package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/marketpan/internal/notify"
	"github.com/ppiankov/marketpan/internal/poll"
	"github.com/ppiankov/marketpan/internal/stats"
)

var (
	pollFormat string
	pollDryRun bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and print the statistics",
	RunE:  pollAction,
}

func init() {
	pollCmd.Flags().StringVar(&pollFormat, "format", "terminal", "output format: terminal, json")
	pollCmd.Flags().BoolVar(&pollDryRun, "dry-run", false, "print alerts instead of sending them")
	rootCmd.AddCommand(pollCmd)
}

func pollAction(cmd *cobra.Command, _ []string) error {
	if pollFormat != "terminal" && pollFormat != "json" && pollFormat != "" {
		return fmt.Errorf("unknown format %q (want terminal or json)", pollFormat)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(!pollDryRun); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := cmd.OutOrStdout()
	var notifier poll.Notifier
	if pollDryRun {
		notifier = &notify.Printer{W: out}
	} else {
		tg := cfg.Notify.Telegram
		bot, err := newTelegram(tg, logger)
		if err != nil {
			return err
		}
		notifier = bot
	}

	sources, _, err := buildSources(cfg, st, logger)
	if err != nil {
		return err
	}
	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	redactor, err := buildRedactor(cfg)
	if err != nil {
		return err
	}

	poller, err := poll.New(poll.Options{
		Sources:     sources,
		Store:       st,
		Classifier:  classifier,
		Notifier:    notifier,
		Interval:    cfg.Poll.Interval.Duration,
		MaxAttempts: cfg.Classifier.MaxAttempts,
		Redactor:    redactor,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	rep := poller.RunCycle(cmd.Context())
	snap := poller.Tracker().Snapshot()

	if pollFormat == "json" {
		return printPollJSON(out, rep, snap)
	}
	printPollTerminal(out, rep, snap, time.Now())
	return nil
}

type pollOutput struct {
	Cycle poll.Report    `json:"cycle"`
	Stats stats.Snapshot `json:"stats"`
}

func printPollJSON(w io.Writer, rep poll.Report, snap stats.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pollOutput{Cycle: rep, Stats: snap})
}

func printPollTerminal(w io.Writer, rep poll.Report, snap stats.Snapshot, now time.Time) {
	fmt.Fprintf(w, "marketpan: cycle %s polled %s in %s\n\n",
		rep.ID, strings.Join(rep.Polled, ", "), rep.Duration.Round(time.Millisecond))
	fmt.Fprint(w, stats.Format(snap, now))
}
