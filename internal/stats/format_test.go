package stats

import (
	"strings"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{
		Fetched:   12345,
		Forwarded: 42,
		Errors:    3,
		StartedAt: now.Add(-2 * time.Hour),
		LastPoll:  now.Add(-5 * time.Minute),
		Kinds: map[string]KindStats{
			"tweets": {Fetched: 12000, Forwarded: 40, Errors: 1, LastPoll: now.Add(-5 * time.Minute)},
			"news":   {Fetched: 345, Forwarded: 2, Errors: 2},
		},
	}

	out := Format(s, now)

	for _, want := range []string{
		"12,345",
		"Forwarded:",
		"2 hours",
		"since 2025-03-01 10:00:00 UTC",
		"2025-03-01 11:55:00 UTC",
		"5 minutes ago",
		"TYPE",
		"12,000",
		"never",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Kinds are listed in sorted order.
	if strings.Index(out, "news") > strings.Index(out, "tweets") {
		t.Errorf("kinds not sorted:\n%s", out)
	}
}

func TestFormat_NoPolls(t *testing.T) {
	now := time.Now()
	out := Format(Snapshot{StartedAt: now}, now)
	if !strings.Contains(out, "Last poll:") || !strings.Contains(out, "never") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "TYPE") {
		t.Errorf("per-type table printed without kinds:\n%s", out)
	}
}
