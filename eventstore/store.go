package eventstore

import "context"

// StreamStore is the contract every storage engine implements.
//
// A stream's current version is always derived from what is physically
// present in storage, it is never tracked as separate metadata. Within one
// append call events are written in the given order with strictly
// increasing, contiguous versions.
type StreamStore interface {
	// StartStream creates the stream and appends the given events starting
	// at version 1. It fails with a ConcurrencyError if at least one event
	// already exists for the stream.
	StartStream(ctx context.Context, id StreamID, streamType string, events StoredEvents) (StreamVersionUint, error)

	// AppendToStream evaluates the expected version predicate against the
	// current stream version and, on success, appends the events and
	// returns the final stream version. A mid-batch write failure leaves
	// only the already-written prefix durable, there is no rollback.
	AppendToStream(ctx context.Context, id StreamID, streamType string, events StoredEvents, expected ExpectedVersion) (StreamVersionUint, error)

	// FetchStream returns all stored events in ascending version order, or
	// an empty slice if the stream was never written. A decode failure on
	// any one record aborts the whole fetch.
	FetchStream(ctx context.Context, id StreamID) (StoredEvents, error)

	// GetStreamVersion returns the current stream version, 0 if absent.
	GetStreamVersion(ctx context.Context, id StreamID) (StreamVersionUint, error)

	// StreamExists reports whether at least one event record exists.
	StreamExists(ctx context.Context, id StreamID) (bool, error)
}
