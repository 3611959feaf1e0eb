// Package poll runs the fetch → dedup → classify → notify cycle on a timer.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/marketpan/internal/classify"
	"github.com/ppiankov/marketpan/internal/notify"
	"github.com/ppiankov/marketpan/internal/privacy"
	"github.com/ppiankov/marketpan/internal/source"
	"github.com/ppiankov/marketpan/internal/state"
	"github.com/ppiankov/marketpan/internal/stats"
)

const DefaultMaxAttempts = 3

// Notifier delivers an alert for a relevant item.
type Notifier interface {
	Send(ctx context.Context, a notify.Alert) error
}

// CycleObserver receives the wall time of each completed cycle.
type CycleObserver interface {
	ObserveCycle(d time.Duration)
}

// Options configures a Poller.
type Options struct {
	Sources    []source.Source
	Store      state.Store
	Classifier classify.Classifier
	Notifier   Notifier
	Tracker    *stats.Tracker

	// Interval is the timer period. Every overrides it per source type; a
	// type is polled on the first tick at least Every after its last poll.
	Interval time.Duration
	Every    map[string]time.Duration

	// MaxAttempts bounds classification attempts per item within the
	// process. After the last failure the item is marked seen.
	MaxAttempts int

	Redactor *privacy.Redactor
	Observer CycleObserver
	Logger   *slog.Logger
}

// Report summarizes one cycle.
type Report struct {
	ID        string        `json:"id"`
	Polled    []string      `json:"polled"`
	Fetched   int           `json:"fetched"`
	Forwarded int           `json:"forwarded"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

type pendingItem struct {
	source   string // sourceKey of the origin
	item     source.Item
	attempts int
}

// Poller owns the tracker, the store and the in-memory retry queue. Only
// one cycle runs at a time.
type Poller struct {
	sources     []source.Source
	store       state.Store
	classifier  classify.Classifier
	notifier    Notifier
	tracker     *stats.Tracker
	interval    time.Duration
	every       map[string]time.Duration
	maxAttempts int
	redactor    *privacy.Redactor
	observer    CycleObserver
	logger      *slog.Logger
	now         func() time.Time

	cycleMu  sync.Mutex
	lastPoll map[string]time.Time
	pending  map[string]*pendingItem
}

// New validates opts and returns a Poller.
func New(opts Options) (*Poller, error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New("poll: at least one source is required")
	}
	if opts.Store == nil || opts.Classifier == nil || opts.Notifier == nil {
		return nil, errors.New("poll: store, classifier and notifier are required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("poll: interval must be positive")
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = stats.NewTracker()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	every := make(map[string]time.Duration, len(opts.Every))
	for k, v := range opts.Every {
		every[k] = v
	}

	return &Poller{
		sources:     opts.Sources,
		store:       opts.Store,
		classifier:  opts.Classifier,
		notifier:    opts.Notifier,
		tracker:     tracker,
		interval:    opts.Interval,
		every:       every,
		maxAttempts: maxAttempts,
		redactor:    opts.Redactor,
		observer:    opts.Observer,
		logger:      logger,
		now:         time.Now,
		lastPoll:    make(map[string]time.Time),
		pending:     make(map[string]*pendingItem),
	}, nil
}

// Tracker returns the statistics tracker the poller writes to.
func (p *Poller) Tracker() *stats.Tracker { return p.tracker }

// due reports whether kind should be polled at now. Half a tick of slack
// absorbs timer jitter.
func (p *Poller) due(kind string, now time.Time) bool {
	last, ok := p.lastPoll[kind]
	if !ok {
		return true
	}
	every := p.every[kind]
	if every <= p.interval {
		return true
	}
	return now.Sub(last) >= every-p.interval/2
}

// RunCycle polls every due source once, sequentially. Counters become
// visible to Snapshot only when the whole cycle is committed.
func (p *Poller) RunCycle(ctx context.Context) Report {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	start := p.now()
	rep := Report{ID: uuid.NewString()}
	logger := p.logger.With("cycle", rep.ID)
	batch := stats.NewBatch()

	dueKinds := make(map[string]bool)
	for _, src := range p.sources {
		kind := src.Kind()
		if _, seen := dueKinds[kind]; !seen {
			dueKinds[kind] = p.due(kind, start)
		}
	}

	for _, src := range p.sources {
		if ctx.Err() != nil {
			break
		}
		if !dueKinds[src.Kind()] {
			continue
		}
		p.runSource(ctx, logger, src, batch, &rep)
	}

	for kind, isDue := range dueKinds {
		if isDue {
			p.lastPoll[kind] = start
			batch.Polled(kind)
			rep.Polled = append(rep.Polled, kind)
		}
	}
	sort.Strings(rep.Polled)

	p.tracker.Commit(batch)
	rep.Duration = p.now().Sub(start)
	if p.observer != nil {
		p.observer.ObserveCycle(rep.Duration)
	}
	logger.Info("cycle complete",
		"polled", rep.Polled,
		"fetched", rep.Fetched,
		"forwarded", rep.Forwarded,
		"errors", rep.Errors,
		"duration", rep.Duration.Round(time.Millisecond),
	)
	return rep
}

// runSource processes one source. A panic anywhere inside is recovered and
// counted as an error for the source's type.
func (p *Poller) runSource(ctx context.Context, logger *slog.Logger, src source.Source, batch *stats.Batch, rep *Report) {
	kind := src.Kind()
	logger = logger.With("kind", kind, "source", src.Name())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("source panicked", "panic", fmt.Sprint(r))
			batch.Error(kind)
			rep.Errors++
		}
	}()

	items, err := src.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("fetch failed", "error", err, "transient", errors.Is(err, source.ErrTransient))
		batch.Error(kind)
		rep.Errors++
	}

	srcKey := sourceKey(src)
	candidates := p.takePending(srcKey)
	inCycle := make(map[string]bool, len(candidates)+len(items))
	for _, c := range candidates {
		inCycle[c.item.ID] = true
	}
	fresh := 0
	for _, it := range items {
		if it.ID == "" || inCycle[it.ID] || p.store.IsSeen(kind, it.ID) {
			continue
		}
		inCycle[it.ID] = true
		candidates = append(candidates, &pendingItem{source: srcKey, item: it})
		fresh++
	}
	batch.Fetch(kind, fresh)
	rep.Fetched += fresh
	if len(candidates) > 0 {
		logger.Debug("processing items", "new", fresh, "retries", len(candidates)-fresh)
	}

	for i, c := range candidates {
		if ctx.Err() != nil {
			// Unprocessed items stay unseen and are fetched or retried again.
			p.requeue(candidates[i:])
			break
		}
		p.processItem(ctx, logger, kind, c, batch, rep)
	}

	// A cancelled cycle is flushed again by Run on the way out.
	if err := p.store.Flush(ctx); err != nil && ctx.Err() == nil {
		logger.Error("flush state", "error", err)
		batch.Error(kind)
		rep.Errors++
	}
}

func (p *Poller) processItem(ctx context.Context, logger *slog.Logger, kind string, c *pendingItem, batch *stats.Batch, rep *Report) {
	it := c.item
	if p.store.IsSeen(kind, it.ID) {
		return
	}

	text := it.Text
	if text == "" {
		text = it.Title
	}
	res, err := p.classifier.Classify(ctx, p.redactor.Apply(text))
	if err != nil {
		if ctx.Err() != nil {
			p.requeue([]*pendingItem{c})
			return
		}
		c.attempts++
		batch.Error(kind)
		rep.Errors++
		if c.attempts >= p.maxAttempts {
			logger.Warn("classification failed, giving up", "id", it.ID, "attempts", c.attempts, "error", err)
			p.store.MarkSeen(kind, it.ID)
			return
		}
		logger.Warn("classification failed, will retry", "id", it.ID, "attempts", c.attempts, "error", err)
		p.requeue([]*pendingItem{c})
		return
	}

	if !res.Relevant {
		logger.Debug("irrelevant item skipped", "id", it.ID)
		p.store.MarkSeen(kind, it.ID)
		return
	}

	// Cancelled before or during delivery: the item stays unseen and the
	// next run fetches it again.
	if ctx.Err() != nil {
		p.requeue([]*pendingItem{c})
		return
	}
	if err := p.notifier.Send(ctx, notify.Alert{Item: it, Result: res}); err != nil {
		if ctx.Err() != nil {
			logger.Warn("delivery interrupted by shutdown", "id", it.ID, "error", err)
			p.requeue([]*pendingItem{c})
			return
		}
		logger.Error("delivery failed", "id", it.ID, "error", err)
		batch.Error(kind)
		rep.Errors++
	} else {
		batch.Forward(kind, 1)
		rep.Forwarded++
	}
	// Seen even after a failed delivery so a broken chat cannot cause a
	// re-send storm.
	p.store.MarkSeen(kind, it.ID)
}

func sourceKey(src source.Source) string {
	return src.Kind() + "\x00" + src.Name()
}

func (p *Poller) requeue(items []*pendingItem) {
	for _, c := range items {
		p.pending[c.source+"\x00"+c.item.ID] = c
	}
}

// takePending removes and returns the retry queue entries for a source.
func (p *Poller) takePending(srcKey string) []*pendingItem {
	var out []*pendingItem
	for key, c := range p.pending {
		if c.source == srcKey {
			out = append(out, c)
			delete(p.pending, key)
		}
	}
	sortPending(out)
	return out
}

// Pending returns the number of items waiting for another classification
// attempt.
func (p *Poller) Pending() int {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	return len(p.pending)
}
