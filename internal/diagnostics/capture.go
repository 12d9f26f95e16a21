// Package diagnostics captures everything needed to reproduce a failed attempt
// offline and serializes it without tripping over cyclic values.
package diagnostics

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// ResponseSnapshot is the part of the target's reply kept for diagnostics.
type ResponseSnapshot struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// RequestConfig describes how the failed request was sent. Proxy credentials
// must already be redacted.
type RequestConfig struct {
	Method  string        `json:"method"`
	URL     string        `json:"url"`
	Proxy   string        `json:"proxy,omitempty"`
	PoolTag string        `json:"poolTag,omitempty"`
	Profile string        `json:"profile,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Input collects the attempt context at the moment of failure.
type Input struct {
	Item     scrape.WorkItem
	Payload  any
	Headers  scrape.HeaderSet
	Response *ResponseSnapshot
	Config   *RequestConfig
}

// Capture builds the diagnostics record for err.
func Capture(err error, in Input, now time.Time) *scrape.Diagnostics {
	d := &scrape.Diagnostics{
		SourceURL: in.Item.SourceURL,
		InputData: in.Payload,
		Headers:   in.Headers.Map(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if in.Config != nil {
		d.ErrorConfig = in.Config
	}
	if err != nil {
		d.ErrorMessage = err.Error()
		d.ErrorStack = StackTrace(err)
	}
	if in.Response != nil && in.Response.Status > 0 {
		d.ErrorResponse = &scrape.ErrorResponse{
			Status:     in.Response.Status,
			StatusText: http.StatusText(in.Response.Status),
			Data:       decodeBody(in.Response.Body),
			Headers:    copyHeaders(in.Response.Headers),
		}
	}
	return d
}

// StackTrace returns the formatted stack of the first stack-carrying error in
// err's chain, falling back to the plain message.
func StackTrace(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if up := eris.Unpack(e); len(up.ErrRoot.Stack) > 0 {
			return eris.ToString(e, true)
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(append([]byte(nil), body...))
	}
	return string(body)
}

func copyHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}
