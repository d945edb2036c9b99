package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/eventfold/eventfold/eventstore"
)

var ErrSessionClosed = errors.New("session is closed")
var ErrAggregateNotFound = errors.New("aggregate not found")

// trackKey identifies one identity-map entry.
type trackKey struct {
	kind string
	id   string
}

// trackedAggregate is one identity-map entry: the shared instance plus the
// version captured when it entered the session.
type trackedAggregate struct {
	agg           Aggregate
	kind          string
	versionAtLoad eventstore.StreamVersionUint
}

// streamOperation is one queued raw-stream operation.
type streamOperation struct {
	start      bool
	streamID   eventstore.StreamID
	streamType string
	events     Events
}

// Session is a transient unit-of-work scope over a stream store.
//
// It owns an identity map keyed by (kind, id) and a queue of pending
// raw-stream operations, and holds no durable state of its own. A Session
// is meant for one logical thread of control and performs no internal
// locking. Aggregate instances, once tracked, are shared between the caller
// and the session until Close.
type Session struct {
	log      *slog.Logger
	store    eventstore.StreamStore
	registry *Registry

	tracked map[trackKey]*trackedAggregate
	order   []trackKey
	pending []streamOperation
	closed  bool
}

// NewSession creates an open Session on top of the given store and registry.
// A nil logger falls back to slog.Default().
func NewSession(store eventstore.StreamStore, registry *Registry, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	return &Session{
		log:      log.With(slog.String("component", "session")),
		store:    store,
		registry: registry,
		tracked:  make(map[trackKey]*trackedAggregate),
	}
}

// Load returns the aggregate of kind T with the given id.
//
// If the identity map already holds the (kind, id) entry the cached
// instance is returned, never a re-read: repeated loads in one session
// return the same instance, and its version-at-load stays as captured by
// the first load. Otherwise the backing stream is fetched and replayed; an
// absent stream yields ErrAggregateNotFound.
func Load[T Aggregate](ctx context.Context, s *Session, id eventstore.AggregateID) (T, error) {
	var zero T

	if s.closed {
		return zero, ErrSessionClosed
	}

	agg := newAggregateInstance[T]()
	kind := agg.AggregateKind()
	key := trackKey{kind: kind, id: id.String()}

	if entry, ok := s.tracked[key]; ok {
		cached, isT := entry.agg.(T)
		if !isT {
			return zero, fmt.Errorf("tracked aggregate %s/%s is a %T, not a %T", kind, id, entry.agg, zero)
		}

		return cached, nil
	}

	streamID, err := streamIDForAggregate(kind, id.String())
	if err != nil {
		return zero, err
	}

	stored, err := s.store.FetchStream(ctx, streamID)
	if err != nil {
		return zero, err
	}

	if len(stored) == 0 {
		return zero, fmt.Errorf("%w: %s/%s", ErrAggregateNotFound, kind, id)
	}

	agg.SetAggregateID(id.String())

	if err := Replay(agg, stored, s.registry); err != nil {
		return zero, err
	}

	s.trackEntry(key, agg, agg.Version())
	s.log.Debug("aggregate loaded",
		slog.String("kind", kind),
		slog.String("id", id.String()),
		slog.Uint64("version", uint64(agg.Version())))

	return agg, nil
}

// LoadOrCreate behaves like Load but, when the stream is absent, returns a
// fresh empty instance cached with version-at-load 0 instead of failing.
func LoadOrCreate[T Aggregate](ctx context.Context, s *Session, id eventstore.AggregateID) (T, error) {
	agg, err := Load[T](ctx, s, id)
	if err == nil {
		return agg, nil
	}

	if !errors.Is(err, ErrAggregateNotFound) {
		var zero T
		return zero, err
	}

	agg = newAggregateInstance[T]()
	agg.SetAggregateID(id.String())

	s.trackEntry(trackKey{kind: agg.AggregateKind(), id: id.String()}, agg, 0)

	return agg, nil
}

// Track registers the aggregate in the identity map under its own runtime
// kind and id, overwriting any prior entry for that key and capturing the
// aggregate's own current version as version-at-load.
func (s *Session) Track(agg Aggregate) error {
	if s.closed {
		return ErrSessionClosed
	}

	if agg.AggregateID() == "" {
		return errors.New("aggregate id is empty")
	}

	s.trackEntry(trackKey{kind: agg.AggregateKind(), id: agg.AggregateID()}, agg, agg.Version())

	return nil
}

// QueueStartStream queues creation of an arbitrary non-aggregate stream.
// The operation is flushed by the next SaveChanges, before aggregate saves.
func (s *Session) QueueStartStream(id eventstore.StreamID, streamType string, events ...Event) error {
	return s.queueStreamOperation(streamOperation{start: true, streamID: id, streamType: streamType, events: events})
}

// QueueAppendToStream queues an append to an arbitrary non-aggregate
// stream, committed without a version check.
func (s *Session) QueueAppendToStream(id eventstore.StreamID, streamType string, events ...Event) error {
	return s.queueStreamOperation(streamOperation{streamID: id, streamType: streamType, events: events})
}

func (s *Session) queueStreamOperation(op streamOperation) error {
	if s.closed {
		return ErrSessionClosed
	}

	if len(op.events) == 0 {
		return eventstore.ErrNoEventsToAppend
	}

	s.pending = append(s.pending, op)

	return nil
}

// HasChanges reports whether any tracked aggregate holds at least one
// uncommitted event or any raw-stream operation is queued.
func (s *Session) HasChanges() bool {
	if len(s.pending) > 0 {
		return true
	}

	for _, entry := range s.tracked {
		if len(entry.agg.UncommittedEvents()) > 0 {
			return true
		}
	}

	return false
}

// SaveChanges commits all pending work: queued raw-stream operations first,
// then every tracked aggregate with uncommitted events, each under
// ExpectedVersion NONE if its version-at-load is 0, else EXACTLY.
//
// Every eligible entry is attempted regardless of earlier failures. If any
// entry failed, a single *SaveFailure bundling every cause is returned;
// entries that succeeded remain committed. Cancelling the context between
// per-entry attempts stops further attempts; unattempted entries keep their
// uncommitted events for a later call.
func (s *Session) SaveChanges(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	var causes []error

	cancelled := s.flushStreamOperations(ctx, &causes)
	if !cancelled {
		cancelled = s.saveTrackedAggregates(ctx, &causes)
	}

	if cancelled {
		causes = append(causes, ctx.Err())
	}

	if len(causes) > 0 {
		return &SaveFailure{Causes: causes}
	}

	return nil
}

// flushStreamOperations attempts every queued raw-stream operation.
// Failed operations stay queued; it reports whether the context was
// cancelled mid-flight.
func (s *Session) flushStreamOperations(ctx context.Context, causes *[]error) bool {
	remaining := make([]streamOperation, 0, len(s.pending))

	for i, op := range s.pending {
		if ctx.Err() != nil {
			remaining = append(remaining, s.pending[i:]...)
			s.pending = remaining

			return true
		}

		if err := s.applyStreamOperation(ctx, op); err != nil {
			*causes = append(*causes, fmt.Errorf("stream %q: %w", op.streamID.String(), err))
			remaining = append(remaining, op)
		}
	}

	s.pending = remaining

	return false
}

func (s *Session) applyStreamOperation(ctx context.Context, op streamOperation) error {
	stored, err := s.toStoredEvents(op.events)
	if err != nil {
		return err
	}

	if op.start {
		_, err = s.store.StartStream(ctx, op.streamID, op.streamType, stored)
	} else {
		_, err = s.store.AppendToStream(ctx, op.streamID, op.streamType, stored, eventstore.ExpectAny())
	}

	return err
}

// saveTrackedAggregates attempts every tracked aggregate with uncommitted
// events, in tracking order. It reports whether the context was cancelled
// mid-flight.
func (s *Session) saveTrackedAggregates(ctx context.Context, causes *[]error) bool {
	for _, key := range s.order {
		entry := s.tracked[key]

		uncommitted := entry.agg.UncommittedEvents()
		if len(uncommitted) == 0 {
			continue
		}

		if ctx.Err() != nil {
			return true
		}

		if err := s.saveAggregate(ctx, entry, uncommitted); err != nil {
			*causes = append(*causes, fmt.Errorf("aggregate %s/%s: %w", entry.kind, key.id, err))
		}
	}

	return false
}

func (s *Session) saveAggregate(ctx context.Context, entry *trackedAggregate, uncommitted Events) error {
	streamID, err := streamIDForAggregate(entry.kind, entry.agg.AggregateID())
	if err != nil {
		return err
	}

	stored, err := s.toStoredEvents(uncommitted)
	if err != nil {
		return err
	}

	expected := eventstore.ExpectNone()
	if entry.versionAtLoad > 0 {
		expected = eventstore.ExpectExactly(entry.versionAtLoad)
	}

	newVersion, err := s.store.AppendToStream(ctx, streamID, entry.kind, stored, expected)
	if err != nil {
		return err
	}

	entry.agg.clearUncommitted()
	entry.agg.setVersion(newVersion)
	entry.versionAtLoad = newVersion

	s.log.Debug("aggregate saved",
		slog.String("kind", entry.kind),
		slog.String("id", entry.agg.AggregateID()),
		slog.Uint64("version", uint64(newVersion)),
		slog.Int("event_count", len(stored)))

	return nil
}

// Close disposes the session: the identity map and the pending queue are
// cleared and any later call on the session fails with ErrSessionClosed.
// Close is idempotent and never affects already-committed data.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.tracked = nil
	s.order = nil
	s.pending = nil

	return nil
}

func (s *Session) trackEntry(key trackKey, agg Aggregate, versionAtLoad eventstore.StreamVersionUint) {
	if _, exists := s.tracked[key]; !exists {
		s.order = append(s.order, key)
	}

	s.tracked[key] = &trackedAggregate{agg: agg, kind: key.kind, versionAtLoad: versionAtLoad}
}

// toStoredEvents converts domain events into store DTOs, resolving each
// event's discriminator through the registry.
func (s *Session) toStoredEvents(events Events) (eventstore.StoredEvents, error) {
	stored := make(eventstore.StoredEvents, 0, len(events))

	for _, event := range events {
		payload, err := event.PayloadToJSON()
		if err != nil {
			return nil, fmt.Errorf("serializing event %q failed: %w", event.EventType(), err)
		}

		record, err := eventstore.BuildStoredEvent(
			event.EventType(),
			s.registry.DiscriminatorFor(event.EventType()),
			payload,
		)
		if err != nil {
			return nil, err
		}

		stored = append(stored, record)
	}

	return stored, nil
}

// streamIDForAggregate derives the backing stream identifier
// deterministically from the aggregate kind and id.
func streamIDForAggregate(kind string, id string) (eventstore.StreamID, error) {
	return eventstore.BuildStreamID(kind + "-" + id)
}

// newAggregateInstance constructs a fresh T. Aggregate kinds are pointer
// types embedding Root, so T is instantiated via reflection on its element
// type.
func newAggregateInstance[T Aggregate]() T {
	rt := reflect.TypeOf((*T)(nil)).Elem()

	if rt.Kind() == reflect.Pointer {
		return reflect.New(rt.Elem()).Interface().(T)
	}

	return *new(T)
}
