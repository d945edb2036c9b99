// Package memoryengine provides a mutex-guarded in-memory implementation of
// the eventstore.StreamStore contract for tests and development.
package memoryengine

import (
	"context"
	"sync"

	"github.com/eventfold/eventfold/eventstore"
)

// EventStore is a simple, correct (optimistic) in-memory stream store.
// Safe for concurrent use; the mutex is the serialization point that the
// filesystem provides for the filesystem engine.
type EventStore struct {
	mu      sync.Mutex
	clock   eventstore.Clock
	streams map[string][]eventstore.StoredEvent
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore)

// WithClock sets the time source for the EventStore.
func WithClock(clock eventstore.Clock) Option {
	return func(es *EventStore) {
		es.clock = clock
	}
}

// New creates an in-memory EventStore with optional configuration.
func New(options ...Option) *EventStore {
	es := &EventStore{
		clock:   eventstore.SystemClock{},
		streams: make(map[string][]eventstore.StoredEvent),
	}

	for _, option := range options {
		option(es)
	}

	return es
}

// StartStream creates the stream, failing with a ConcurrencyError if at
// least one event already exists for the stream.
func (es *EventStore) StartStream(
	ctx context.Context,
	id eventstore.StreamID,
	streamType string,
	events eventstore.StoredEvents,
) (eventstore.StreamVersionUint, error) {

	return es.AppendToStream(ctx, id, streamType, events, eventstore.ExpectNone())
}

// AppendToStream evaluates the expected version predicate and appends the
// events under the store's mutex.
func (es *EventStore) AppendToStream(
	ctx context.Context,
	id eventstore.StreamID,
	streamType string,
	events eventstore.StoredEvents,
	expected eventstore.ExpectedVersion,
) (eventstore.StreamVersionUint, error) {

	if len(events) == 0 {
		return 0, eventstore.ErrNoEventsToAppend
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	stream := es.streams[id.String()]
	currentVersion := eventstore.StreamVersionUint(len(stream))

	if !expected.Matches(currentVersion) {
		return 0, &eventstore.ConcurrencyError{
			StreamID: id.String(),
			Expected: expected,
			Actual:   currentVersion,
		}
	}

	version := currentVersion

	for _, event := range events {
		version++

		stamped := event
		stamped.StreamVersion = version
		stamped.StreamID = id.String()
		stamped.StreamType = streamType
		stamped.OccurredAt = es.clock.Now()

		stream = append(stream, stamped)
	}

	es.streams[id.String()] = stream

	return version, nil
}

// FetchStream returns a copy of all stored events in ascending version
// order, or an empty slice if the stream was never written.
func (es *EventStore) FetchStream(
	ctx context.Context,
	id eventstore.StreamID,
) (eventstore.StoredEvents, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	stream := es.streams[id.String()]
	out := make(eventstore.StoredEvents, len(stream))
	copy(out, stream)

	return out, nil
}

// GetStreamVersion returns the current stream version, 0 if absent.
func (es *EventStore) GetStreamVersion(
	ctx context.Context,
	id eventstore.StreamID,
) (eventstore.StreamVersionUint, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	return eventstore.StreamVersionUint(len(es.streams[id.String()])), nil
}

// StreamExists reports whether at least one event record exists.
func (es *EventStore) StreamExists(ctx context.Context, id eventstore.StreamID) (bool, error) {
	version, err := es.GetStreamVersion(ctx, id)
	if err != nil {
		return false, err
	}

	return version > 0, nil
}
