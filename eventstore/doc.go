// Package eventstore provides core abstractions and types for a per-stream
// event store with optimistic concurrency.
//
// This package defines the fundamental contracts and value types used across
// the different storage engines, including stream identifiers, the expected
// version predicate, the stored-event envelope, the envelope codec, and
// common error definitions.
//
// Key types:
//   - StreamID / AggregateID: validated identifier values
//   - ExpectedVersion: tri-state optimistic concurrency predicate
//   - StoredEvent: one persisted event record
//   - StreamStore: the contract every storage engine implements
//   - Codec: encodes/decodes one stored-event envelope
//
// Common usage pattern:
//
//	streamID, err := eventstore.BuildStreamID("hotel-h1")
//	if err != nil {
//		// handle validation error
//	}
//
//	event, err := eventstore.BuildStoredEvent(eventType, discriminator, payloadJSON)
//	if err != nil {
//		// handle error
//	}
//
//	version, err := store.AppendToStream(ctx, streamID, "hotel", events, eventstore.ExpectExactly(3))
//	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
//		// somebody else won the race, re-read and retry
//	}
package eventstore
