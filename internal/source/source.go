package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Seen-set keys, one per source type.
const (
	KindTweets = "tweets"
	KindNews   = "news"
	KindRSS    = "rss"
)

// ErrTransient marks a fetch failure worth retrying on the next cycle:
// network errors, rate limiting, and server-side HTTP errors.
var ErrTransient = errors.New("transient fetch error")

// Item is a single piece of content fetched from a source.
type Item struct {
	ID        string    // source-specific unique ID
	Kind      string    // source type: "tweets", "news", "rss"
	Source    string    // configured source name: account, category, feed URL
	Title     string    // headline, empty for tweets
	Text      string    // full text
	URL       string    // link to the original item
	Publisher string    // author handle or news outlet
	PostedAt  time.Time // publication timestamp
}

// Source fetches new items from one configured origin.
type Source interface {
	// Kind returns the seen-set key for this source's items.
	Kind() string

	// Name returns the configured source name (e.g. "elonmusk", "crypto").
	Name() string

	// Fetch returns items published since the previous call. The first call
	// covers the configured lookback window.
	Fetch(ctx context.Context) ([]Item, error)
}

const httpTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// statusError converts a non-200 response into an error. Rate limiting and
// server errors wrap ErrTransient.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// getJSON performs a GET and decodes a JSON body into v.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
