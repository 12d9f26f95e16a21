package scrape

import (
	"encoding/json"
	"net/http"
	"time"
)

// AttemptKey correlates the lifecycle events of one attempt and addresses the
// stored error payload for it.
type AttemptKey string

// String returns the raw key.
func (k AttemptKey) String() string { return string(k) }

// WorkItem is one listing-search URL awaiting a scrape attempt.
type WorkItem struct {
	SourceURL string `json:"sourceUrl"`
	RegionID  string `json:"regionId"`
	// RetryKey is set only for items read from the failed queue.
	RetryKey AttemptKey `json:"retryKey,omitempty"`
}

// IsRetry reports whether the item carries a prior attempt key.
func (w WorkItem) IsRetry() bool { return w.RetryKey != "" }

// Header is a single request header.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// HeaderSet is an ordered list of request headers.
type HeaderSet []Header

// Get returns the first value for name (case-insensitive).
func (h HeaderSet) Get(name string) string {
	key := http.CanonicalHeaderKey(name)
	for _, hdr := range h {
		if http.CanonicalHeaderKey(hdr.Name) == key {
			return hdr.Value
		}
	}
	return ""
}

// HTTP converts the set into an http.Header. Later entries win.
func (h HeaderSet) HTTP() http.Header {
	out := make(http.Header, len(h))
	for _, hdr := range h {
		out.Set(hdr.Name, hdr.Value)
	}
	return out
}

// Map flattens the set for diagnostics.
func (h HeaderSet) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, hdr := range h {
		out[hdr.Name] = hdr.Value
	}
	return out
}

// HeaderProfile is one browser-like header combination.
type HeaderProfile struct {
	Name    string    `json:"name" yaml:"name"`
	Headers HeaderSet `json:"headers" yaml:"headers"`
}

// Identity is the proxy and header profile used to disguise one request.
// It lives only for the duration of one Execute call.
type Identity struct {
	PoolTag       string
	ProxyEndpoint string
	Profile       HeaderProfile
}

// OutcomeKind tags an attempt outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailure
)

// MarshalText encodes the kind by name.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one attempt.
type Outcome struct {
	Kind OutcomeKind
	// Results is nil when the response carried no result collection.
	Results     []json.RawMessage
	Diagnostics *Diagnostics
	Err         error
}

// Succeeded builds a success outcome.
func Succeeded(results []json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Results: results}
}

// Failed builds a failure outcome.
func Failed(diag *Diagnostics, err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Diagnostics: diag, Err: err}
}

// ErrorResponse captures the target site's reply to a failed attempt.
type ErrorResponse struct {
	Status     int                 `json:"status"`
	StatusText string              `json:"statusText"`
	Data       any                 `json:"data"`
	Headers    map[string][]string `json:"headers"`
}

// Diagnostics holds everything needed to replay a failed attempt offline.
type Diagnostics struct {
	SourceURL     string            `json:"sourceUrl"`
	InputData     any               `json:"inputData"`
	Headers       map[string]string `json:"headers"`
	ErrorMessage  string            `json:"errorMessage"`
	ErrorStack    string            `json:"errorStack"`
	ErrorResponse *ErrorResponse    `json:"errorResponse"`
	ErrorConfig   any               `json:"errorConfig"`
	Timestamp     string            `json:"timestamp"`
}

// AttemptRecord is the ledger row and notification body written after each
// terminal outcome.
type AttemptRecord struct {
	RunID       string      `json:"runId"`
	Source      string      `json:"source"`
	Key         AttemptKey  `json:"key"`
	RegionID    string      `json:"regionId"`
	SourceURL   string      `json:"sourceUrl"`
	Outcome     OutcomeKind `json:"outcome"`
	ResultCount int         `json:"resultCount"`
	StatusCode  int         `json:"statusCode,omitempty"`
	ErrorText   string      `json:"error,omitempty"`
	PoolTag     string      `json:"poolTag,omitempty"`
	Profile     string      `json:"profile,omitempty"`
	FinishedAt  time.Time   `json:"finishedAt"`
}
