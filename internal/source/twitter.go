package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	twitterAPIBase       = "https://api.twitter.com"
	twitterWindow        = 15 * time.Minute
	twitterWindowLimit   = 180
	twitterStatusURLBase = "https://twitter.com"
)

// ErrUserNotFound is returned by LookupUser when the handle does not exist.
var ErrUserNotFound = errors.New("user not found")

// TwitterClient talks to the X API v2 with a bearer token. One client is
// shared by every account so they draw from the same rate limit.
type TwitterClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTwitterClient creates an X API client. An empty baseURL selects the
// public API.
func NewTwitterClient(token, baseURL string) (*TwitterClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("twitter: bearer token is required")
	}
	if baseURL == "" {
		baseURL = twitterAPIBase
	}
	return &TwitterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Every(twitterWindow/twitterWindowLimit), twitterWindowLimit),
	}, nil
}

type twitterUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type twitterAPIError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type tweetsResponse struct {
	Data []tweet `json:"data"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func (c *TwitterClient) get(ctx context.Context, endpoint string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	return getJSON(ctx, c.client, c.baseURL+endpoint, header, v)
}

// LookupUser resolves a handle to its stable user ID.
func (c *TwitterClient) LookupUser(ctx context.Context, username string) (string, error) {
	var resp struct {
		Data   *twitterUser      `json:"data"`
		Errors []twitterAPIError `json:"errors"`
	}
	endpoint := "/2/users/by/username/" + url.PathEscape(strings.TrimPrefix(username, "@"))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("lookup %s: %w", username, err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		if len(resp.Errors) > 0 {
			return "", fmt.Errorf("lookup %s: %w: %s", username, ErrUserNotFound, resp.Errors[0].Detail)
		}
		return "", fmt.Errorf("lookup %s: %w", username, ErrUserNotFound)
	}
	return resp.Data.ID, nil
}

// timelineQuery selects a window of a user's timeline.
type timelineQuery struct {
	maxResults int
	sinceID    string
	startTime  time.Time
}

func (c *TwitterClient) userTweets(ctx context.Context, userID string, q timelineQuery) (*tweetsResponse, error) {
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(q.maxResults))
	params.Set("tweet.fields", "created_at")
	if q.sinceID != "" {
		params.Set("since_id", q.sinceID)
	} else if !q.startTime.IsZero() {
		params.Set("start_time", q.startTime.UTC().Format(time.RFC3339))
	}

	var resp tweetsResponse
	endpoint := "/2/users/" + url.PathEscape(userID) + "/tweets?" + params.Encode()
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolver maps a configured account name to its stable source ID.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// TwitterSource polls one account's timeline.
type TwitterSource struct {
	client     *TwitterClient
	resolver   Resolver
	account    string
	maxResults int
	lookback   time.Duration

	mu      sync.Mutex
	sinceID string
	now     func() time.Time
}

// NewTwitter creates a source for one account. The user ID is resolved through
// resolver on every fetch, so an account that failed to resolve is retried.
func NewTwitter(client *TwitterClient, resolver Resolver, account string, maxResults int, lookback time.Duration) (*TwitterSource, error) {
	if client == nil || resolver == nil {
		return nil, errors.New("twitter: client and resolver are required")
	}
	if strings.TrimSpace(account) == "" {
		return nil, errors.New("twitter: account is required")
	}
	if maxResults < 5 || maxResults > 100 {
		return nil, fmt.Errorf("twitter: max_results %d out of range 5..100", maxResults)
	}
	return &TwitterSource{
		client:     client,
		resolver:   resolver,
		account:    account,
		maxResults: maxResults,
		lookback:   lookback,
		now:        time.Now,
	}, nil
}

func (ts *TwitterSource) Kind() string { return KindTweets }

func (ts *TwitterSource) Name() string { return ts.account }

func (ts *TwitterSource) Fetch(ctx context.Context) ([]Item, error) {
	userID, err := ts.resolver.Resolve(ctx, ts.account)
	if err != nil {
		return nil, fmt.Errorf("twitter %s: %w", ts.account, err)
	}

	ts.mu.Lock()
	q := timelineQuery{maxResults: ts.maxResults, sinceID: ts.sinceID}
	if q.sinceID == "" && ts.lookback > 0 {
		q.startTime = ts.now().Add(-ts.lookback)
	}
	ts.mu.Unlock()

	resp, err := ts.client.userTweets(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("twitter %s: %w", ts.account, err)
	}

	items := make([]Item, 0, len(resp.Data))
	newest := resp.Meta.NewestID
	for _, tw := range resp.Data {
		items = append(items, Item{
			ID:        tw.ID,
			Kind:      KindTweets,
			Source:    ts.account,
			Text:      tw.Text,
			URL:       fmt.Sprintf("%s/%s/status/%s", twitterStatusURLBase, ts.account, tw.ID),
			Publisher: ts.account,
			PostedAt:  tw.CreatedAt,
		})
		if newerID(tw.ID, newest) {
			newest = tw.ID
		}
	}

	if newest != "" {
		ts.mu.Lock()
		if newerID(newest, ts.sinceID) {
			ts.sinceID = newest
		}
		ts.mu.Unlock()
	}
	return items, nil
}

// newerID reports whether snowflake ID a is greater than b. IDs are decimal
// strings without leading zeros.
func newerID(a, b string) bool {
	if b == "" {
		return a != ""
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
