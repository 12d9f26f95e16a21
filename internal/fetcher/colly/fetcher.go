// Package collyfetcher replays search payloads against the target site with
// gocolly, tunnelling each attempt through the identity's proxy.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/diagnostics"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

const (
	// DefaultEndpoint is the search-page-state endpoint of the target site.
	DefaultEndpoint = "https://www.zillow.com/async-create-search-page-state"
	// ResultsPath locates the result collection in a response body.
	ResultsPath = "cat1.searchResults.mapResults"

	defaultTimeout = 60 * time.Second
)

// Config controls the executor.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Executor implements scrape.Executor using a fresh colly collector per
// attempt.
type Executor struct {
	cfg    Config
	clock  scrape.Clock
	logger *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// exchange collects what the hooks observed during one attempt.
type exchange struct {
	status  int
	body    []byte
	headers http.Header
	err     error
}

// New builds an Executor.
func New(cfg Config, clock scrape.Clock, logger *zap.Logger) *Executor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, clock: clock, logger: logger}
}

// Execute sends one PUT with payload under identity id and classifies the
// reply. It never retries; every failure comes back as an OutcomeFailure
// carrying diagnostics.
func (e *Executor) Execute(
	ctx context.Context,
	item scrape.WorkItem,
	payload scrape.SearchPayload,
	id scrape.Identity,
) scrape.Outcome {
	headers := requestHeaders(id.Profile.Headers)
	reqCfg := &diagnostics.RequestConfig{
		Method:  http.MethodPut,
		URL:     e.cfg.Endpoint,
		Proxy:   redactProxy(id.ProxyEndpoint),
		PoolTag: id.PoolTag,
		Profile: id.Profile.Name,
		Timeout: e.cfg.Timeout,
	}
	fail := func(err error, ex *exchange) scrape.Outcome {
		in := diagnostics.Input{
			Item:    item,
			Payload: payload,
			Headers: headers,
			Config:  reqCfg,
		}
		if ex != nil && ex.status > 0 {
			in.Response = &diagnostics.ResponseSnapshot{Status: ex.status, Body: ex.body, Headers: ex.headers}
		}
		return scrape.Failed(diagnostics.Capture(err, in, e.now()), err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(eris.Wrap(err, "encode search payload"), nil)
	}

	transport, err := newHTTPTransport(id.ProxyEndpoint)
	if err != nil {
		return fail(&scrape.TransportError{Err: eris.Wrap(err, "configure proxy")}, nil)
	}
	defer transport.CloseIdleConnections()

	start := time.Now()
	ex, err := e.runCollector(ctx, transport, headers, body)
	if err != nil {
		e.logger.Debug("search request failed",
			zap.String("source_url", item.SourceURL),
			zap.String("pool", id.PoolTag),
			zap.Int("status", ex.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fail(err, &ex)
	}

	if ex.status < 200 || ex.status > 299 {
		err := &scrape.TransportError{
			Status: ex.status,
			Err:    eris.Errorf("unexpected response %d %s", ex.status, http.StatusText(ex.status)),
		}
		return fail(err, &ex)
	}

	results, err := extractResults(ex.body)
	if err != nil {
		return fail(&scrape.TransportError{Status: ex.status, Err: err}, &ex)
	}
	e.logger.Debug("search request succeeded",
		zap.String("source_url", item.SourceURL),
		zap.String("pool", id.PoolTag),
		zap.Int("results", len(results)),
		zap.Bool("results_present", results != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return scrape.Succeeded(results)
}

func (e *Executor) buildCollector(transport http.RoundTripper, headers scrape.HeaderSet, ex *exchange) *colly.Collector {
	collector := colly.NewCollector(colly.AllowURLRevisit())
	// Status classification happens in Execute so 2xx-only success holds.
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = 0
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.WithTransport(transport)
	configureCollectorHooks(collector, headers, ex)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, headers scrape.HeaderSet, ex *exchange) {
	hooks.OnRequest(func(r *colly.Request) {
		for _, h := range headers {
			r.Headers.Set(h.Name, h.Value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		ex.status = r.StatusCode
		ex.body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			ex.headers = r.Headers.Clone()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			ex.status = r.StatusCode
			ex.body = append([]byte(nil), r.Body...)
			if r.Headers != nil {
				ex.headers = r.Headers.Clone()
			}
		}
		ex.err = err
	})
}

// runCollector performs the request on its own goroutine so ctx can cut the
// wait short. The returned exchange is zero when ctx ended first.
func (e *Executor) runCollector(
	ctx context.Context,
	transport http.RoundTripper,
	headers scrape.HeaderSet,
	body []byte,
) (exchange, error) {
	type result struct {
		ex  exchange
		err error
	}
	done := make(chan result, 1)
	go func() {
		ex := &exchange{}
		collector := e.buildCollector(transport, headers, ex)
		err := collector.Request(http.MethodPut, e.cfg.Endpoint, bytes.NewReader(body), nil, headers.HTTP())
		done <- result{ex: *ex, err: err}
	}()

	select {
	case <-ctx.Done():
		return exchange{}, &scrape.TransportError{Err: eris.Wrap(ctx.Err(), "search request canceled")}
	case r := <-done:
		if r.ex.err != nil {
			return r.ex, &scrape.TransportError{Status: r.ex.status, Err: eris.Wrap(r.ex.err, "search request")}
		}
		if r.err != nil {
			return r.ex, &scrape.TransportError{Status: r.ex.status, Err: eris.Wrap(r.err, "search request")}
		}
		return r.ex, nil
	}
}

// extractResults returns nil when the result path is absent or null.
func extractResults(body []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, eris.New("response body is not valid JSON")
	}
	res := gjson.GetBytes(body, ResultsPath)
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, eris.Errorf("%s is %s, not an array", ResultsPath, res.Type)
	}
	results := make([]json.RawMessage, 0, len(res.Array()))
	res.ForEach(func(_, value gjson.Result) bool {
		results = append(results, json.RawMessage(value.Raw))
		return true
	})
	return results, nil
}

func requestHeaders(profile scrape.HeaderSet) scrape.HeaderSet {
	out := make(scrape.HeaderSet, 0, len(profile)+1)
	for _, h := range profile {
		if http.CanonicalHeaderKey(h.Name) == "Content-Type" {
			continue
		}
		out = append(out, h)
	}
	return append(out, scrape.Header{Name: "Content-Type", Value: "application/json"})
}

func redactProxy(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

func newHTTPTransport(proxyEndpoint string) (*http.Transport, error) {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxyEndpoint == "" {
		return t, nil
	}
	u, err := url.Parse(proxyEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy endpoint %q needs scheme and host", u.Redacted())
	}
	t.Proxy = http.ProxyURL(u)
	return t, nil
}

func (e *Executor) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}
