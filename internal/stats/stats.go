// Package stats keeps the running counters reported by the /stats command.
package stats

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// KindStats holds the counters for one source type.
type KindStats struct {
	Fetched   int       `json:"fetched"`
	Forwarded int       `json:"forwarded"`
	Errors    int       `json:"errors"`
	LastPoll  time.Time `json:"last_poll"`
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Fetched   int                  `json:"fetched"`
	Forwarded int                  `json:"forwarded"`
	Errors    int                  `json:"errors"`
	StartedAt time.Time            `json:"started_at"`
	LastPoll  time.Time            `json:"last_poll"`
	Kinds     map[string]KindStats `json:"kinds"`
}

// KindNames returns the source types in the snapshot, sorted.
func (s Snapshot) KindNames() []string {
	names := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Tracker accumulates counters. Writers apply whole batches under one lock so
// readers never observe a half-applied cycle.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker starts a tracker with the current time as its start time.
func NewTracker() *Tracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *Tracker {
	return &Tracker{
		snap: Snapshot{StartedAt: now(), Kinds: make(map[string]KindStats)},
		now:  now,
	}
}

// RecordFetch adds n fetched items for kind.
func (t *Tracker) RecordFetch(kind string, n int) {
	b := NewBatch()
	b.Fetch(kind, n)
	t.Commit(b)
}

// RecordForward adds n forwarded items for kind.
func (t *Tracker) RecordForward(kind string, n int) {
	b := NewBatch()
	b.Forward(kind, n)
	t.Commit(b)
}

// RecordError counts one error for kind.
func (t *Tracker) RecordError(kind string) {
	b := NewBatch()
	b.Error(kind)
	t.Commit(b)
}

// Snapshot returns a copy of the last committed state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.Kinds = maps.Clone(t.snap.Kinds)
	return s
}

// Commit applies every delta in b atomically. Kinds marked as polled get
// their last-poll time set to the commit time.
func (t *Tracker) Commit(b *Batch) {
	if b == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for kind, d := range b.deltas {
		ks := t.snap.Kinds[kind]
		ks.Fetched += d.Fetched
		ks.Forwarded += d.Forwarded
		ks.Errors += d.Errors
		t.snap.Fetched += d.Fetched
		t.snap.Forwarded += d.Forwarded
		t.snap.Errors += d.Errors
		if _, ok := b.polled[kind]; ok {
			ks.LastPoll = now
		}
		t.snap.Kinds[kind] = ks
	}
	for kind := range b.polled {
		if _, ok := b.deltas[kind]; ok {
			continue
		}
		ks := t.snap.Kinds[kind]
		ks.LastPoll = now
		t.snap.Kinds[kind] = ks
	}
	if len(b.polled) > 0 {
		t.snap.LastPoll = now
	}
}

// Batch collects one cycle's deltas. It is not safe for concurrent use.
type Batch struct {
	deltas map[string]*KindStats
	polled map[string]struct{}
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		deltas: make(map[string]*KindStats),
		polled: make(map[string]struct{}),
	}
}

func (b *Batch) kind(kind string) *KindStats {
	d, ok := b.deltas[kind]
	if !ok {
		d = &KindStats{}
		b.deltas[kind] = d
	}
	return d
}

func (b *Batch) Fetch(kind string, n int) {
	if n > 0 {
		b.kind(kind).Fetched += n
	}
}

func (b *Batch) Forward(kind string, n int) {
	if n > 0 {
		b.kind(kind).Forwarded += n
	}
}

func (b *Batch) Error(kind string) {
	b.kind(kind).Errors++
}

// Polled marks kind as polled in this cycle.
func (b *Batch) Polled(kind string) {
	b.polled[kind] = struct{}{}
}

// Empty reports whether the batch carries no deltas and no polls.
func (b *Batch) Empty() bool {
	return len(b.deltas) == 0 && len(b.polled) == 0
}
