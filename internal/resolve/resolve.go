// Package resolve maps configured source names to stable source IDs,
// caching the result in the state store.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ppiankov/marketpan/internal/state"
)

// ErrLookup wraps every failure to resolve a name. The name stays unresolved
// and is retried on the next call.
var ErrLookup = errors.New("identity lookup failed")

// Lookup resolves a name against the source API.
type Lookup interface {
	LookupUser(ctx context.Context, name string) (string, error)
}

// Resolver resolves names through a Lookup, consulting the store first.
type Resolver struct {
	store  state.Store
	lookup Lookup
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a resolver. A nil logger discards output.
func New(store state.Store, lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, lookup: lookup, logger: logger}
}

// Resolve returns the ID for name. Matching is case-insensitive. A cache miss
// calls the lookup API, stores the mapping and flushes the store.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrLookup)
	}
	if id, ok := r.store.Identity(name); ok {
		return id, nil
	}

	// Serialize misses so concurrent callers do not look up the same name twice.
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.store.Identity(name); ok {
		return id, nil
	}

	id, err := r.lookup.LookupUser(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrLookup, name, err)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: %s: empty id", ErrLookup, name)
	}

	r.store.SetIdentity(name, id)
	if err := r.store.Flush(ctx); err != nil {
		r.logger.Warn("flush identity cache", "name", name, "error", err)
	}
	r.logger.Info("resolved identity", "name", name, "id", id)
	return id, nil
}

// Failure is a name that could not be resolved.
type Failure struct {
	Name string
	Err  error
}

// ResolveAll resolves every name, continuing past failures. It returns the
// resolved mapping and the names that failed.
func (r *Resolver) ResolveAll(ctx context.Context, names []string) (map[string]string, []Failure) {
	resolved := make(map[string]string, len(names))
	var failures []Failure
	for _, name := range names {
		if ctx.Err() != nil {
			failures = append(failures, Failure{Name: name, Err: ctx.Err()})
			continue
		}
		id, err := r.Resolve(ctx, name)
		if err != nil {
			r.logger.Warn("resolve identity", "name", name, "error", err)
			failures = append(failures, Failure{Name: name, Err: err})
			continue
		}
		resolved[name] = id
	}
	return resolved, failures
}
