package trackingapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

type recorded struct {
	method string
	path   string
	raw    string
	accept string
	ctype  string
	body   []byte
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []recorded
	status   int
	response string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{
		method: r.Method,
		path:   r.URL.Path,
		raw:    r.URL.EscapedPath(),
		accept: r.Header.Get("Accept"),
		ctype:  r.Header.Get("Content-Type"),
		body:   body,
	})
	status, response := f.status, f.response
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (f *fakeAPI) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/", WithRateLimit(0), WithLogger(zap.NewNop()), WithTimeout(2*time.Second))
	require.NoError(t, err)
	return c
}

func TestFetchFresh(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{response: `[{"countyId":48453,"zillowLink":"https://z/a"},{"countyId":"06037","zillowLink":"https://z/b"}]`}
	c := newTestClient(t, api)

	items, err := c.FetchFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []scrape.WorkItem{
		{SourceURL: "https://z/a", RegionID: "48453"},
		{SourceURL: "https://z/b", RegionID: "06037"},
	}, items)

	call := api.last(t)
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/api/scrapper/get-zillow-urls", call.path)
	assert.Equal(t, "*/*", call.accept)
	assert.Empty(t, call.body)
}

func TestFetchFailed(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{response: `[{"countyId":"7","zillowUrl":"https://z/c","s3Key":"snapshot_abcdefghij.json"}]`}
	c := newTestClient(t, api)

	items, err := c.FetchFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, scrape.AttemptKey("snapshot_abcdefghij.json"), items[0].RetryKey)
	assert.True(t, items[0].IsRetry())
	assert.Equal(t, "7", items[0].RegionID)

	call := api.last(t)
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/api/snapshots/failed", call.path)
}

func TestFetchFreshNon2xx(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{status: http.StatusServiceUnavailable, response: "maintenance"}
	c := newTestClient(t, api)

	_, err := c.FetchFresh(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.Equal(t, "maintenance", statusErr.Body)
}

func TestFetchFreshBadJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{response: `{"not":"a list"}`})
	_, err := c.FetchFresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestStarted(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.Started(context.Background(), "snapshot_k.json", "48453", "https://z/a"))
	call := api.last(t)
	assert.Equal(t, "/api/aws/started-scrapper", call.path)
	assert.Equal(t, "application/json", call.ctype)
	assert.JSONEq(t, `{"key":"snapshot_k.json","countyId":"48453","zillowUrl":"https://z/a"}`, string(call.body))
}

func TestSucceeded(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api)

	count := 2
	require.NoError(t, c.Succeeded(context.Background(), "snapshot_k.json", &count))
	call := api.last(t)
	assert.Equal(t, "/api/aws/successful-scrapper/snapshot_k.json", call.path)
	assert.JSONEq(t, `{"resultCount":2}`, string(call.body))

	require.NoError(t, c.Succeeded(context.Background(), "snapshot_k.json", nil))
	assert.Empty(t, api.last(t).body)
}

func TestKeysArePathEscaped(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.Failed(context.Background(), "odd key/1"))
	call := api.last(t)
	assert.Equal(t, "/api/aws/failed-scrapper/odd%20key%2F1", call.raw)

	require.NoError(t, c.IncrementAttempt(context.Background(), "snapshot_k.json"))
	assert.Equal(t, "/api/aws/update-attempt-count/snapshot_k.json", api.last(t).path)
}

func TestUploadError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api)

	require.NoError(t, c.UploadError(context.Background(), "snapshot_k.json", "1", "{\n  \"errorMessage\": \"x\"\n}"))
	call := api.last(t)
	assert.Equal(t, "/api/aws/scrapping-error", call.path)

	var got map[string]string
	require.NoError(t, json.Unmarshal(call.body, &got))
	assert.Equal(t, "snapshot_k.json", got["key"])
	assert.Equal(t, "1", got["countyId"])
	assert.Contains(t, got["error"], "errorMessage")
}

func TestUploadResults(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c := newTestClient(t, api)

	results := []json.RawMessage{json.RawMessage(`"A"`), json.RawMessage(`"B"`)}
	require.NoError(t, c.UploadResults(context.Background(), "snapshot_k.json", "1", results))
	call := api.last(t)
	assert.Equal(t, "/api/aws/upload-results", call.path)
	assert.JSONEq(t, `{"results":["A","B"],"county_id":"1","key":"snapshot_k.json"}`, string(call.body))

	require.NoError(t, c.UploadResults(context.Background(), "snapshot_k.json", "1", nil))
	assert.JSONEq(t, `{"results":[],"county_id":"1","key":"snapshot_k.json"}`, string(api.last(t).body))
}

func TestCanceledContextStopsRateLimitedCall(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithRateLimit(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, c.Failed(ctx, "snapshot_k.json"))
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.calls)
}

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := New("/api")
	require.Error(t, err)

	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.base.String())
}
