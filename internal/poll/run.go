package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/robfig/cron/v3"
)

// Run executes one cycle immediately, then one per interval until ctx is
// done. A tick that arrives while a cycle is still running is skipped. On
// return the in-flight cycle has finished and state has been flushed.
func (p *Poller) Run(ctx context.Context) error {
	clog := cronLogger{p.logger}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(
		cron.Recover(clog),
		cron.SkipIfStillRunning(clog),
	))
	schedule := fmt.Sprintf("@every %s", p.interval)
	if _, err := c.AddFunc(schedule, func() { p.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	p.logger.Info("poller started", "interval", p.interval, "sources", len(p.sources))
	p.RunCycle(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	// ctx is already cancelled; the final flush gets a fresh one.
	if err := p.store.Flush(context.Background()); err != nil {
		return fmt.Errorf("flush state: %w", err)
	}
	p.logger.Info("poller stopped")
	return nil
}

// cronLogger routes cron's internal logging through slog. Cron logs every
// schedule event at info, so those go to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

// sortPending orders retries by post time, oldest first.
func sortPending(items []*pendingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].item, items[j].item
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		return a.ID < b.ID
	})
}
