package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	rssUserAgent   = "Mozilla/5.0 (compatible; marketpan/1.0; +https://github.com/ppiankov/marketpan)"
	rssMaxRetries  = 3
	rssMaxTextSize = 4000
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// RSSSource polls one RSS/Atom feed. Each fetch returns every entry inside
// the lookback window behind the newest entry seen so far; the seen set
// drops repeats. Entries that share the newest timestamp or arrive
// backdated are therefore still delivered.
type RSSSource struct {
	feedURL  string
	lookback time.Duration
	client   *http.Client

	mu     sync.Mutex
	newest time.Time
	now    func() time.Time
}

// NewRSS creates a source for one feed URL.
func NewRSS(feedURL string, lookback time.Duration) (*RSSSource, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, errors.New("rss: feed URL is required")
	}
	return &RSSSource{
		feedURL:  feedURL,
		lookback: lookback,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: &rssTransport{base: http.DefaultTransport},
		},
		now: time.Now,
	}, nil
}

func (rs *RSSSource) Kind() string { return KindRSS }

func (rs *RSSSource) Name() string { return rs.feedURL }

// Fetch returns entries published no earlier than the lookback window
// before the newest entry seen so far, or before now on the first call.
func (rs *RSSSource) Fetch(ctx context.Context) ([]Item, error) {
	rs.mu.Lock()
	cutoff := rs.now().Add(-rs.lookback)
	if !rs.newest.IsZero() {
		cutoff = rs.newest.Add(-rs.lookback)
	}
	rs.mu.Unlock()

	feed, err := rs.fetchWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("rss %s: %w", rs.feedURL, err)
	}

	items := itemsFromFeed(feed, rs.feedURL, cutoff)

	rs.mu.Lock()
	for _, it := range items {
		if it.PostedAt.After(rs.newest) {
			rs.newest = it.PostedAt
		}
	}
	rs.mu.Unlock()

	return items, nil
}

// rssTransport injects a User-Agent header into every request.
type rssTransport struct {
	base http.RoundTripper
}

func (t *rssTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", rssUserAgent)
	return t.base.RoundTrip(req)
}

// rssSleepFunc waits out a retry backoff, returning early with ctx's error
// when ctx is done. Tests replace it.
var rssSleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rs *RSSSource) fetchWithRetry(ctx context.Context) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := range rssMaxRetries {
		feed, err := rs.fetchFeed(ctx)
		if err == nil {
			return feed, nil
		}
		if !errors.Is(err, ErrTransient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < rssMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
			if err := rssSleepFunc(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (rs *RSSSource) fetchFeed(ctx context.Context) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = rs.client
	feed, err := fp.ParseURLWithContext(rs.feedURL, ctx)
	if err == nil {
		return feed, nil
	}

	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return nil, err
	}
	if isNetworkError(err) {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return nil, err
}

func isNetworkError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "Timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "no such host")
}

// itemsFromFeed converts entries published at or after cutoff. Entries
// without a date or an ID are skipped.
func itemsFromFeed(feed *gofeed.Feed, feedURL string, cutoff time.Time) []Item {
	publisher := feedLabel(feed, feedURL)
	var items []Item
	for _, entry := range feed.Items {
		postedAt := itemPublishedTime(entry)
		if postedAt.IsZero() || postedAt.Before(cutoff) {
			continue
		}
		id := itemID(entry)
		if id == "" {
			continue
		}

		items = append(items, Item{
			ID:        id,
			Kind:      KindRSS,
			Source:    feedURL,
			Title:     strings.TrimSpace(entry.Title),
			Text:      itemText(entry),
			URL:       entry.Link,
			Publisher: publisher,
			PostedAt:  postedAt,
		})
	}
	return items
}

func itemPublishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func feedLabel(feed *gofeed.Feed, feedURL string) string {
	if feed.Title != "" {
		return feed.Title
	}
	return feedURL
}

func itemID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	return entry.Link
}

func itemText(entry *gofeed.Item) string {
	raw := entry.Content
	if raw == "" {
		raw = entry.Description
	}

	text := stripHTML(raw)

	if entry.Title != "" && !strings.Contains(text, entry.Title) {
		text = strings.TrimSpace(entry.Title + " " + text)
	}
	if len(text) > rssMaxTextSize {
		cut := rssMaxTextSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// stripHTML reduces an HTML fragment to its visible text on one line.
func stripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(doc.Text(), " "))
}
