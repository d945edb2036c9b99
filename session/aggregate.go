package session

import (
	"fmt"

	"github.com/eventfold/eventfold/eventstore"
)

// Aggregate is the contract for event-sourced domain objects.
//
// An aggregate maintains:
//   - Identity: kind and id that determine the backing stream
//   - Version: the stream version of the last applied event, 0 if none
//   - Uncommitted events: events emitted but not yet persisted
//
// Concrete aggregate kinds embed Root for the bookkeeping and implement
// AggregateKind plus Fold, the one state transition both replay and live
// emission converge on. Folding the same ordered event sequence from a
// fresh instance must yield identical state whether it arrives via Replay
// or via Emit.
type Aggregate interface {
	// AggregateKind returns the kind name used for stream identification.
	AggregateKind() string
	// AggregateID returns the identifier of this aggregate instance.
	AggregateID() string
	// SetAggregateID sets the identifier. Typically called during creation.
	SetAggregateID(id string)

	// Version returns the stream version of the last applied event.
	Version() eventstore.StreamVersionUint
	setVersion(eventstore.StreamVersionUint)

	// Fold applies one event to the aggregate state.
	Fold(event Event) error

	// UncommittedEvents returns a copy of the events emitted but not yet persisted.
	UncommittedEvents() Events
	record(event Event)
	clearUncommitted()
}

// Root is the embeddable base tracking identity, version and uncommitted
// events. Its unexported interface methods tie Aggregate implementations to
// this embedding.
type Root struct {
	id          string
	version     eventstore.StreamVersionUint
	uncommitted Events
}

// AggregateID returns the identifier of this aggregate instance.
func (r *Root) AggregateID() string {
	return r.id
}

// SetAggregateID sets the identifier.
func (r *Root) SetAggregateID(id string) {
	r.id = id
}

// Version returns the stream version of the last applied event, 0 if none.
func (r *Root) Version() eventstore.StreamVersionUint {
	return r.version
}

func (r *Root) setVersion(version eventstore.StreamVersionUint) {
	r.version = version
}

// UncommittedEvents returns a copy of the events emitted but not yet persisted.
func (r *Root) UncommittedEvents() Events {
	out := make(Events, len(r.uncommitted))
	copy(out, r.uncommitted)

	return out
}

func (r *Root) record(event Event) {
	r.uncommitted = append(r.uncommitted, event)
}

func (r *Root) clearUncommitted() {
	r.uncommitted = nil
}

// Emit folds each event into the aggregate state immediately, so callers
// observe up-to-date state synchronously, and enqueues it as uncommitted.
// An event whose fold fails is not enqueued and aborts the batch.
func Emit(agg Aggregate, events ...Event) error {
	for _, event := range events {
		if err := agg.Fold(event); err != nil {
			return fmt.Errorf("folding event %q failed: %w", event.EventType(), err)
		}

		agg.record(event)
	}

	return nil
}

// Replay rebuilds aggregate state from stored events in ascending version
// order, decoding each payload through the registry, folding it, and
// advancing the aggregate version to the record's stream version.
func Replay(agg Aggregate, stored eventstore.StoredEvents, registry *Registry) error {
	for _, record := range stored {
		event, err := registry.Decode(record)
		if err != nil {
			return err
		}

		if err := agg.Fold(event); err != nil {
			return fmt.Errorf(
				"folding event %q at version %d failed: %w",
				record.EventType, record.StreamVersion, err,
			)
		}

		agg.setVersion(record.StreamVersion)
	}

	return nil
}
