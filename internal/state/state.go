// Package state persists the identity cache and the per-type seen-item sets.
package state

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store persists the name → source-ID cache and, per source type, the set of
// item IDs that have already been processed. Reads and marks are served from
// memory; Flush writes pending changes to disk.
type Store interface {
	IsSeen(kind, id string) bool
	MarkSeen(kind string, ids ...string)
	SeenCount(kind string) int
	SeenKinds() []string

	Identity(name string) (string, bool)
	SetIdentity(name, id string)
	Identities() map[string]string

	Flush(ctx context.Context) error
	Close() error
}

// identityKey normalizes a source name so lookups are case-insensitive.
func identityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// seenSet is an insertion-ordered set of item IDs.
type seenSet struct {
	order []string
	index map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{index: make(map[string]struct{})}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *seenSet) add(id string) bool {
	if s.has(id) {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// trim drops the oldest IDs until at most max remain and returns them.
// max <= 0 means unbounded.
func (s *seenSet) trim(max int) []string {
	if max <= 0 || len(s.order) <= max {
		return nil
	}
	n := len(s.order) - max
	evicted := append([]string(nil), s.order[:n]...)
	for _, id := range evicted {
		delete(s.index, id)
	}
	s.order = append([]string(nil), s.order[n:]...)
	return evicted
}

// memory is the in-process state shared by both backends.
type memory struct {
	mu         sync.Mutex
	maxPerType int
	identities map[string]string
	seen       map[string]*seenSet
}

func newMemory(maxPerType int) *memory {
	return &memory{
		maxPerType: maxPerType,
		identities: make(map[string]string),
		seen:       make(map[string]*seenSet),
	}
}

func (m *memory) set(kind string) *seenSet {
	s, ok := m.seen[kind]
	if !ok {
		s = newSeenSet()
		m.seen[kind] = s
	}
	return s
}

func (m *memory) isSeen(kind, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seen[kind]
	return ok && s.has(id)
}

// markSeen records ids and returns the ones that were new plus any evicted
// by the per-type cap.
func (m *memory) markSeen(kind string, ids []string) (added, evicted []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.set(kind)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if s.add(id) {
			added = append(added, id)
		}
	}
	evicted = s.trim(m.maxPerType)
	return added, evicted
}

func (m *memory) seenCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.seen[kind]; ok {
		return len(s.order)
	}
	return 0
}

func (m *memory) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.seen))
	for k := range m.seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (m *memory) identity(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[identityKey(name)]
	return id, ok
}

func (m *memory) setIdentity(name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey(name)
	if key == "" || id == "" || m.identities[key] == id {
		return false
	}
	m.identities[key] = id
	return true
}

func (m *memory) identitiesCopy() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.identities))
	for k, v := range m.identities {
		out[k] = v
	}
	return out
}

// snapshotSeen copies the ordered IDs of every seen set.
func (m *memory) snapshotSeen() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.seen))
	for k, s := range m.seen {
		out[k] = append([]string(nil), s.order...)
	}
	return out
}
