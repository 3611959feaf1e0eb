package stats

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExporter(t *testing.T) {
	tr := NewTracker()
	b := NewBatch()
	b.Polled("tweets")
	b.Fetch("tweets", 7)
	b.Forward("tweets", 2)
	b.Error("news")
	tr.Commit(b)

	exp := NewExporter(tr)
	exp.ObserveCycle(1500 * time.Millisecond)

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := string(body)

	for _, want := range []string{
		`marketpan_items_fetched_total{kind="tweets"} 7`,
		`marketpan_items_forwarded_total{kind="tweets"} 2`,
		`marketpan_errors_total{kind="news"} 1`,
		`marketpan_last_poll_timestamp_seconds{kind="tweets"}`,
		`marketpan_start_time_seconds`,
		`marketpan_cycle_duration_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Contains(out, `marketpan_last_poll_timestamp_seconds{kind="news"}`) {
		t.Error("news was never polled but exported a last poll time")
	}
}
