package eventstore

import (
	"errors"
	"fmt"
)

var ErrConcurrencyConflict = errors.New("concurrency conflict")
var ErrNoEventsToAppend = errors.New("no events to append")
var ErrFetchingEventsFailed = errors.New("fetching events failed")
var ErrAppendingEventsFailed = errors.New("appending events failed")
var ErrEncodingEventFailed = errors.New("encoding stored event failed")
var ErrDecodingEventFailed = errors.New("decoding stored event failed")

// ConcurrencyError reports a failed optimistic concurrency check during an
// append. It carries the stream, the predicate the caller supplied and the
// version that was actually current at write time.
//
// A low-level version-slot collision (two writers racing the same slot) is
// normalized into this error as well, so callers only ever branch with
// errors.Is(err, ErrConcurrencyConflict).
type ConcurrencyError struct {
	StreamID string
	Expected ExpectedVersion
	Actual   StreamVersionUint
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"concurrency conflict on stream %q: expected version %s, actual version %d",
		e.StreamID, e.Expected, e.Actual,
	)
}

// Unwrap allows callers to match with errors.Is(err, ErrConcurrencyConflict).
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}
