package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	finnhubAPIBase     = "https://finnhub.io/api/v1"
	finnhubPerMinute   = 60
	finnhubUnknownName = "Unknown"
)

// FinnhubClient fetches market news from Finnhub. One client is shared by
// every category so they draw from the same rate limit.
type FinnhubClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFinnhubClient creates a Finnhub client. An empty baseURL selects the
// public API.
func NewFinnhubClient(apiKey, baseURL string) (*FinnhubClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("finnhub: api key is required")
	}
	if baseURL == "" {
		baseURL = finnhubAPIBase
	}
	return &FinnhubClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Every(time.Minute/finnhubPerMinute), finnhubPerMinute),
	}, nil
}

// finnhubArticle is one entry of the /news response.
type finnhubArticle struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

func (c *FinnhubClient) news(ctx context.Context, category string, minID int64) ([]finnhubArticle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("category", category)
	if minID > 0 {
		params.Set("minId", strconv.FormatInt(minID, 10))
	}
	params.Set("token", c.apiKey)

	var articles []finnhubArticle
	header := http.Header{}
	header.Set("X-Finnhub-Token", c.apiKey)
	if err := getJSON(ctx, c.client, c.baseURL+"/news?"+params.Encode(), header, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

// FinnhubSource polls one news category.
type FinnhubSource struct {
	client   *FinnhubClient
	category string
	lookback time.Duration

	mu    sync.Mutex
	minID int64
	now   func() time.Time
}

// NewFinnhub creates a source for one news category (e.g. "crypto").
func NewFinnhub(client *FinnhubClient, category string, lookback time.Duration) (*FinnhubSource, error) {
	if client == nil {
		return nil, errors.New("finnhub: client is required")
	}
	if strings.TrimSpace(category) == "" {
		return nil, errors.New("finnhub: category is required")
	}
	return &FinnhubSource{
		client:   client,
		category: category,
		lookback: lookback,
		now:      time.Now,
	}, nil
}

func (fs *FinnhubSource) Kind() string { return KindNews }

func (fs *FinnhubSource) Name() string { return fs.category }

// Fetch returns articles newer than the last seen article ID, newest first.
// The first call keeps only articles inside the lookback window.
func (fs *FinnhubSource) Fetch(ctx context.Context) ([]Item, error) {
	fs.mu.Lock()
	minID := fs.minID
	fs.mu.Unlock()

	articles, err := fs.client.news(ctx, fs.category, minID)
	if err != nil {
		return nil, fmt.Errorf("finnhub %s: %w", fs.category, err)
	}

	var cutoff time.Time
	if minID == 0 && fs.lookback > 0 {
		cutoff = fs.now().Add(-fs.lookback)
	}

	maxID := minID
	items := make([]Item, 0, len(articles))
	for _, a := range articles {
		if a.ID > maxID {
			maxID = a.ID
		}
		if a.ID <= minID {
			continue
		}
		postedAt := time.Unix(a.Datetime, 0).UTC()
		if !cutoff.IsZero() && postedAt.Before(cutoff) {
			continue
		}
		items = append(items, articleItem(a, fs.category, postedAt))
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PostedAt.After(items[j].PostedAt)
	})

	fs.mu.Lock()
	if maxID > fs.minID {
		fs.minID = maxID
	}
	fs.mu.Unlock()

	return items, nil
}

func articleItem(a finnhubArticle, category string, postedAt time.Time) Item {
	publisher := a.Source
	if publisher == "" {
		publisher = finnhubUnknownName
	}
	text := a.Headline
	if a.Summary != "" {
		text = a.Headline + " " + a.Summary
	}
	return Item{
		ID:        strconv.FormatInt(a.ID, 10),
		Kind:      KindNews,
		Source:    category,
		Title:     a.Headline,
		Text:      strings.TrimSpace(text),
		URL:       a.URL,
		Publisher: publisher,
		PostedAt:  postedAt,
	}
}
