package hackernews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hn-stories/internal/domain"
	"hn-stories/internal/metrics"
)

const (
	DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

	endpointNewStories = "newstories"
	endpointItem       = "item"

	maxBodyBytes  = 4 << 20
	maxErrorBytes = 4096
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("hackernews: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// UpstreamFailure marks the error as an ordinary network failure.
func (e *HTTPStatusError) UpstreamFailure() bool { return true }

// RequestError wraps transport failures, unreadable bodies and malformed JSON.
type RequestError struct {
	Op  string
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("hackernews: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) UpstreamFailure() bool { return true }

// Client reads the newest-stories feed and individual items. There is no
// batch endpoint upstream; every item is one request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit paces outgoing requests to rps with the given burst. A
// non-positive rps leaves the client unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.baseURL == "" {
		return nil, errors.New("hackernews: base URL must not be empty")
	}
	if c.httpClient == nil {
		return nil, errors.New("hackernews: http client must not be nil")
	}
	return c, nil
}

func (c *Client) newStoriesURL() string {
	return c.baseURL + "/newstories.json"
}

func (c *Client) itemURL(id int) string {
	return c.baseURL + "/item/" + strconv.Itoa(id) + ".json"
}

// NewStoryIDs returns the current newest-first ID list.
func (c *Client) NewStoryIDs(ctx context.Context) ([]int, error) {
	url := c.newStoriesURL()
	raw, err := c.get(ctx, endpointNewStories, url)
	if err != nil {
		return nil, err
	}

	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, &RequestError{Op: "decode story ids", URL: url, Err: err}
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

// Item fetches a single item. A JSON null body (deleted or unknown item)
// yields a nil item and no error.
func (c *Client) Item(ctx context.Context, id int) (*domain.Item, error) {
	url := c.itemURL(id)
	raw, err := c.get(ctx, endpointItem, url)
	if err != nil {
		return nil, err
	}

	var item *domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &RequestError{Op: "decode item", URL: url, Err: err}
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// Wait gives up early when the deadline would pass before a token frees.
				return nil, fmt.Errorf("hackernews: rate limiter: %w: %w", context.DeadlineExceeded, err)
			}
			return nil, fmt.Errorf("hackernews: rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hackernews: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream(endpoint, "transport_error", start)
		return nil, &RequestError{Op: "get", URL: url, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	status := strconv.Itoa(res.StatusCode)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		metrics.ObserveUpstream(endpoint, status, start)
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	metrics.ObserveUpstream(endpoint, status, start)
	if err != nil {
		return nil, &RequestError{Op: "read body", URL: url, Err: err}
	}
	return buf, nil
}
