package scrape

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrMissingSearchState is the cause recorded when a source URL has no
// search-state parameter.
var ErrMissingSearchState = eris.New("no searchQueryState parameter found in the URL")

// MalformedSourceError reports a source URL that cannot be turned into a
// search payload. The attempt is still reported as a failure.
type MalformedSourceError struct {
	SourceURL string
	Err       error
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("malformed source url: %v", e.Err)
}

func (e *MalformedSourceError) Unwrap() error { return e.Err }

// NewMalformedSource wraps cause with a stack-carrying eris error.
func NewMalformedSource(sourceURL string, cause error, msg string) *MalformedSourceError {
	if cause == nil {
		return &MalformedSourceError{SourceURL: sourceURL, Err: eris.New(msg)}
	}
	return &MalformedSourceError{SourceURL: sourceURL, Err: eris.Wrap(cause, msg)}
}

// TransportError reports a failed exchange with the target site: network,
// proxy, non-2xx status, or an unreadable body. Status is 0 when no response
// arrived.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("target request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("target request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TrackingSinkError reports a failed lifecycle call to the tracking store.
type TrackingSinkError struct {
	Op  string
	Key AttemptKey
	Err error
}

func (e *TrackingSinkError) Error() string {
	return fmt.Sprintf("tracking %s for %s: %v", e.Op, e.Key, e.Err)
}

func (e *TrackingSinkError) Unwrap() error { return e.Err }

// BatchAcquisitionError is fatal to a run: the job source or retry source
// could not be read.
type BatchAcquisitionError struct {
	Source string
	Err    error
}

func (e *BatchAcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s batch: %v", e.Source, e.Err)
}

func (e *BatchAcquisitionError) Unwrap() error { return e.Err }

// IsMalformedSource reports whether err is or wraps a MalformedSourceError.
func IsMalformedSource(err error) bool {
	var target *MalformedSourceError
	return errors.As(err, &target)
}

// StatusOf returns the HTTP status carried by a TransportError in err, or 0.
func StatusOf(err error) int {
	var target *TransportError
	if errors.As(err, &target) {
		return target.Status
	}
	return 0
}
