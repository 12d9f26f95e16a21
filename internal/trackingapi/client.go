// Package trackingapi talks to the external tracking store: it hands out
// batches of work and records every attempt's lifecycle.
package trackingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

const (
	// DefaultBaseURL is the tracking API root.
	DefaultBaseURL = "https://api.moverlead.com/api"

	defaultTimeout = 30 * time.Second
	defaultRPS     = 5
	maxErrorBody   = 4 << 10
)

// StatusError reports a non-2xx reply from the tracking API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tracking api %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("tracking api %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outbound calls per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

var (
	_ scrape.JobSource    = (*Client)(nil)
	_ scrape.TrackingSink = (*Client)(nil)
)

// Client implements scrape.JobSource and scrape.TrackingSink over HTTP.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, eris.Wrap(err, "parse tracking base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("tracking base url %q needs scheme and host", baseURL)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{},
		limiter: rate.NewLimiter(defaultRPS, defaultRPS),
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type freshItem struct {
	CountyID   flexString `json:"countyId"`
	ZillowLink string     `json:"zillowLink"`
}

type failedItem struct {
	CountyID  flexString `json:"countyId"`
	ZillowURL string     `json:"zillowUrl"`
	S3Key     string     `json:"s3Key"`
}

// FetchFresh returns the batch of never-attempted search URLs.
func (c *Client) FetchFresh(ctx context.Context) ([]scrape.WorkItem, error) {
	var rows []freshItem
	if err := c.do(ctx, "get urls", http.MethodPost, "scrapper/get-zillow-urls", "", &rows); err != nil {
		return nil, err
	}
	items := make([]scrape.WorkItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, scrape.WorkItem{SourceURL: r.ZillowLink, RegionID: string(r.CountyID)})
	}
	return items, nil
}

// FetchFailed returns attempts that previously failed, keyed by their
// original attempt key.
func (c *Client) FetchFailed(ctx context.Context) ([]scrape.WorkItem, error) {
	var rows []failedItem
	if err := c.do(ctx, "get failed", http.MethodGet, "snapshots/failed", nil, &rows); err != nil {
		return nil, err
	}
	items := make([]scrape.WorkItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, scrape.WorkItem{
			SourceURL: r.ZillowURL,
			RegionID:  string(r.CountyID),
			RetryKey:  scrape.AttemptKey(r.S3Key),
		})
	}
	return items, nil
}

// Started announces that an attempt began.
func (c *Client) Started(ctx context.Context, key scrape.AttemptKey, regionID, sourceURL string) error {
	body := map[string]string{"key": key.String(), "countyId": regionID, "zillowUrl": sourceURL}
	return c.do(ctx, "started", http.MethodPost, "aws/started-scrapper", body, nil)
}

// Succeeded marks an attempt successful. resultCount is sent when known.
func (c *Client) Succeeded(ctx context.Context, key scrape.AttemptKey, resultCount *int) error {
	var body any = ""
	if resultCount != nil {
		body = map[string]int{"resultCount": *resultCount}
	}
	return c.do(ctx, "succeeded", http.MethodPost, "aws/successful-scrapper/"+url.PathEscape(key.String()), body, nil)
}

// Failed marks an attempt failed.
func (c *Client) Failed(ctx context.Context, key scrape.AttemptKey) error {
	return c.do(ctx, "failed", http.MethodPost, "aws/failed-scrapper/"+url.PathEscape(key.String()), "", nil)
}

// IncrementAttempt bumps the attempt counter of a retried key.
func (c *Client) IncrementAttempt(ctx context.Context, key scrape.AttemptKey) error {
	return c.do(ctx, "update attempt", http.MethodPost, "aws/update-attempt-count/"+url.PathEscape(key.String()), "", nil)
}

// UploadError stores the serialized diagnostics of a failed attempt.
func (c *Client) UploadError(ctx context.Context, key scrape.AttemptKey, regionID, errorJSON string) error {
	body := map[string]string{"key": key.String(), "countyId": regionID, "error": errorJSON}
	return c.do(ctx, "upload error", http.MethodPost, "aws/scrapping-error", body, nil)
}

// UploadResults stores the result collection of a successful attempt.
func (c *Client) UploadResults(ctx context.Context, key scrape.AttemptKey, regionID string, results []json.RawMessage) error {
	if results == nil {
		results = []json.RawMessage{}
	}
	body := struct {
		Results  []json.RawMessage `json:"results"`
		CountyID string            `json:"county_id"`
		Key      string            `json:"key"`
	}{Results: results, CountyID: regionID, Key: key.String()}
	return c.do(ctx, "upload results", http.MethodPost, "aws/upload-results", body, nil)
}

// do sends one call. A string body is sent verbatim (the API expects an
// empty body on the bare POST endpoints), anything else as JSON.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrapf(err, "tracking api %s: rate limit", op)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return eris.Wrapf(err, "tracking api %s: encode body", op)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	endpoint := c.base.String() + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return eris.Wrapf(err, "tracking api %s: build request", op)
	}
	req.Header.Set("Accept", "*/*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "tracking api %s", op)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("tracking api call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "tracking api %s: decode response", op)
	}
	return nil
}

// flexString accepts a JSON string or number; region ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("region id must be string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}
