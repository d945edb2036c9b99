package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/eventstore"
	"github.com/eventfold/eventfold/eventstore/memoryengine"
	"github.com/eventfold/eventfold/session"
	"github.com/eventfold/eventfold/testutil/fixtures"
)

func givenSession(t *testing.T) (*session.Session, *memoryengine.EventStore) {
	t.Helper()

	store := memoryengine.New()
	sess := session.NewSession(store, fixtures.NewRegistry(), nil)

	return sess, store
}

func givenAggregateID(t *testing.T, value string) eventstore.AggregateID {
	t.Helper()

	id, err := eventstore.BuildAggregateID(value)
	require.NoError(t, err, "error in arranging test data")

	return id
}

func givenStreamID(t *testing.T, value string) eventstore.StreamID {
	t.Helper()

	id, err := eventstore.BuildStreamID(value)
	require.NoError(t, err, "error in arranging test data")

	return id
}

// givenPersistedHotel writes a hotel stream directly through a throwaway
// session so the store holds committed events before the test acts.
func givenPersistedHotel(t *testing.T, store *memoryengine.EventStore, id string, name string) {
	t.Helper()

	sess := session.NewSession(store, fixtures.NewRegistry(), nil)
	defer func() { _ = sess.Close() }()

	hotel, err := fixtures.RegisterHotel(id, name)
	require.NoError(t, err, "error in arranging test data")
	require.NoError(t, sess.Track(hotel), "error in arranging test data")
	require.NoError(t, sess.SaveChanges(context.Background()), "error in arranging test data")
}

func Test_SaveChanges_PersistsEmittedEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)

	// arrange
	hotel, err := fixtures.RegisterHotel("h1", "Grand")
	require.NoError(t, err)
	require.NoError(t, sess.Track(hotel))
	require.NoError(t, hotel.Rename("Grand Budapest"))

	// act
	saveErr := sess.SaveChanges(ctx)

	// assert
	assert.NoError(t, saveErr)
	assert.Equal(t, eventstore.StreamVersionUint(2), hotel.Version())
	assert.Empty(t, hotel.UncommittedEvents())
	assert.False(t, sess.HasChanges())

	streamVersion, err := store.GetStreamVersion(ctx, givenStreamID(t, "hotel-h1"))
	assert.NoError(t, err)
	assert.Equal(t, eventstore.StreamVersionUint(2), streamVersion)
}

func Test_Load_ReturnsTheSameInstanceOnRepeatedLoads(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	givenPersistedHotel(t, store, "h1", "Grand")

	// act
	first, firstErr := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))
	second, secondErr := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))

	// assert
	assert.NoError(t, firstErr)
	assert.NoError(t, secondErr)
	assert.Same(t, first, second, "repeated loads must return the cached instance")

	// mutations through one reference are visible through the other
	require.NoError(t, first.Rename("Budapest"))
	assert.Equal(t, "Budapest", second.Name)
}

func Test_Load_When_StreamIsAbsent(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, _ := givenSession(t)

	// act
	_, err := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "missing"))

	// assert
	assert.ErrorIs(t, err, session.ErrAggregateNotFound)
}

func Test_LoadOrCreate_When_StreamIsAbsent(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)

	// act
	hotel, loadErr := session.LoadOrCreate[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))

	// assert
	require.NoError(t, loadErr)
	assert.Equal(t, "h1", hotel.AggregateID())
	assert.Zero(t, hotel.Version(), "a fresh aggregate starts at version 0")

	// a fresh aggregate commits with a create-only version expectation
	require.NoError(t, session.Emit(hotel, fixtures.HotelRegistered{HotelID: "h1", Name: "Grand"}))
	require.NoError(t, sess.SaveChanges(ctx))

	streamVersion, err := store.GetStreamVersion(ctx, givenStreamID(t, "hotel-h1"))
	assert.NoError(t, err)
	assert.Equal(t, eventstore.StreamVersionUint(1), streamVersion)
}

func Test_LoadOrCreate_When_StreamExists(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	givenPersistedHotel(t, store, "h1", "Grand")

	// act
	hotel, err := session.LoadOrCreate[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))

	// assert
	assert.NoError(t, err)
	assert.Equal(t, "Grand", hotel.Name)
	assert.Equal(t, eventstore.StreamVersionUint(1), hotel.Version())
}

func Test_Load_RebuildsTheStateLiveEmissionProduced(t *testing.T) {
	// setup
	ctx := context.Background()
	writer, store := givenSession(t)

	// arrange: build state through live emission and persist it
	hotel, err := fixtures.RegisterHotel("h1", "Grand")
	require.NoError(t, err)
	require.NoError(t, hotel.Rename("Grand Budapest"))
	require.NoError(t, hotel.ChangeRoomRate("suite", 450))
	require.NoError(t, writer.Track(hotel))
	require.NoError(t, writer.SaveChanges(ctx))

	// act: replay the stream in a second session
	reader := session.NewSession(store, fixtures.NewRegistry(), nil)
	replayed, loadErr := session.Load[*fixtures.Hotel](ctx, reader, givenAggregateID(t, "h1"))

	// assert: replay converges on the same state as live emission
	require.NoError(t, loadErr)
	assert.Equal(t, hotel.Name, replayed.Name)
	assert.Equal(t, hotel.Rates, replayed.Rates)
	assert.Equal(t, hotel.Version(), replayed.Version())
}

func Test_SaveChanges_When_OneAggregateIsStale(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	givenPersistedHotel(t, store, "a1", "Alpha")
	givenPersistedHotel(t, store, "b1", "Beta")

	hotelA, err := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "a1"))
	require.NoError(t, err)
	hotelB, err := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "b1"))
	require.NoError(t, err)

	// arrange: another writer advances hotel B's stream behind the session's back
	givenExternalRename(t, store, "b1", "Beta Prime")

	require.NoError(t, hotelA.Rename("Alpha Two"))
	require.NoError(t, hotelB.Rename("Beta Two"))

	// act
	saveErr := sess.SaveChanges(ctx)

	// assert: one bundled failure, the healthy aggregate stays committed
	var failure *session.SaveFailure
	require.ErrorAs(t, saveErr, &failure)
	assert.Len(t, failure.Causes, 1, "only the stale aggregate fails")
	assert.ErrorIs(t, saveErr, eventstore.ErrConcurrencyConflict)

	assert.Equal(t, eventstore.StreamVersionUint(2), hotelA.Version())
	assert.Empty(t, hotelA.UncommittedEvents())

	assert.Len(t, hotelB.UncommittedEvents(), 1, "the stale aggregate keeps its uncommitted events")

	streamVersionA, err := store.GetStreamVersion(ctx, givenStreamID(t, "hotel-a1"))
	assert.NoError(t, err)
	assert.Equal(t, eventstore.StreamVersionUint(2), streamVersionA)

	streamVersionB, err := store.GetStreamVersion(ctx, givenStreamID(t, "hotel-b1"))
	assert.NoError(t, err)
	assert.Equal(t, eventstore.StreamVersionUint(2), streamVersionB, "only the external write is present for the stale aggregate")
}

func Test_SaveChanges_IsRepeatableAfterSuccess(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, _ := givenSession(t)

	hotel, err := fixtures.RegisterHotel(fixtures.NewHotelID(), "Grand")
	require.NoError(t, err)
	require.NoError(t, sess.Track(hotel))
	require.NoError(t, sess.SaveChanges(ctx))

	// act: keep working with the same tracked instance
	require.NoError(t, hotel.Rename("Grand Budapest"))
	saveErr := sess.SaveChanges(ctx)

	// assert
	assert.NoError(t, saveErr, "the captured version advances with each successful save")
	assert.Equal(t, eventstore.StreamVersionUint(2), hotel.Version())
}

func Test_SaveChanges_FlushesQueuedStreamOperations(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	auditStreamID := givenStreamID(t, "audit-log")

	// arrange
	require.NoError(t, sess.QueueStartStream(auditStreamID, "audit",
		fixtures.HotelRegistered{HotelID: "h1", Name: "Grand"}))
	require.NoError(t, sess.QueueAppendToStream(auditStreamID, "audit",
		fixtures.HotelRenamed{Name: "Grand Budapest"}))
	assert.True(t, sess.HasChanges())

	// act
	saveErr := sess.SaveChanges(ctx)

	// assert
	assert.NoError(t, saveErr)
	assert.False(t, sess.HasChanges())

	streamVersion, err := store.GetStreamVersion(ctx, auditStreamID)
	assert.NoError(t, err)
	assert.Equal(t, eventstore.StreamVersionUint(2), streamVersion)
}

func Test_SaveChanges_When_QueuedStartHitsAnExistingStream(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	givenPersistedHotel(t, store, "h1", "Grand")

	// arrange: starting the already-existing backing stream must fail
	require.NoError(t, sess.QueueStartStream(givenStreamID(t, "hotel-h1"), "hotel",
		fixtures.HotelRegistered{HotelID: "h1", Name: "Clone"}))

	// act
	saveErr := sess.SaveChanges(ctx)

	// assert: the failed operation stays queued for a later attempt
	assert.ErrorIs(t, saveErr, eventstore.ErrConcurrencyConflict)
	assert.True(t, sess.HasChanges())
}

func Test_SaveChanges_When_ContextIsCancelled(t *testing.T) {
	// setup
	sess, _ := givenSession(t)

	hotel, err := fixtures.RegisterHotel("h1", "Grand")
	require.NoError(t, err)
	require.NoError(t, sess.Track(hotel))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// act
	saveErr := sess.SaveChanges(ctx)

	// assert: the cancellation is surfaced and nothing is lost
	assert.ErrorIs(t, saveErr, context.Canceled)
	assert.Len(t, hotel.UncommittedEvents(), 1)

	// a later save with a live context commits the retained events
	assert.NoError(t, sess.SaveChanges(context.Background()))
	assert.Equal(t, eventstore.StreamVersionUint(1), hotel.Version())
}

func Test_SaveChanges_When_NothingIsPending(t *testing.T) {
	// setup
	sess, _ := givenSession(t)

	// act + assert
	assert.False(t, sess.HasChanges())
	assert.NoError(t, sess.SaveChanges(context.Background()))
}

func Test_Session_When_Closed(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, _ := givenSession(t)
	require.NoError(t, sess.Close())

	hotel, err := fixtures.RegisterHotel("h1", "Grand")
	require.NoError(t, err)

	// act + assert
	_, loadErr := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))
	assert.ErrorIs(t, loadErr, session.ErrSessionClosed)

	assert.ErrorIs(t, sess.Track(hotel), session.ErrSessionClosed)
	assert.ErrorIs(t, sess.SaveChanges(ctx), session.ErrSessionClosed)
	assert.ErrorIs(t,
		sess.QueueAppendToStream(givenStreamID(t, "s1"), "", fixtures.HotelRenamed{Name: "x"}),
		session.ErrSessionClosed)

	assert.NoError(t, sess.Close(), "closing twice is a no-op")
}

func Test_Track_OverwritesThePriorEntry(t *testing.T) {
	// setup
	ctx := context.Background()
	sess, store := givenSession(t)
	givenPersistedHotel(t, store, "h1", "Grand")

	loaded, err := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))
	require.NoError(t, err)

	replacement := &fixtures.Hotel{}
	replacement.SetAggregateID("h1")

	// act
	require.NoError(t, sess.Track(replacement))
	current, loadErr := session.Load[*fixtures.Hotel](ctx, sess, givenAggregateID(t, "h1"))

	// assert
	assert.NoError(t, loadErr)
	assert.Same(t, replacement, current)
	assert.NotSame(t, loaded, current)
}

func Test_Track_When_AggregateHasNoID(t *testing.T) {
	// setup
	sess, _ := givenSession(t)

	// act
	err := sess.Track(&fixtures.Hotel{})

	// assert
	assert.Error(t, err)
}

// givenExternalRename appends a rename event to the hotel's backing stream
// outside any session, simulating a concurrent writer.
func givenExternalRename(t *testing.T, store *memoryengine.EventStore, hotelID string, name string) {
	t.Helper()

	payload, err := fixtures.HotelRenamed{Name: name}.PayloadToJSON()
	require.NoError(t, err, "error in arranging test data")

	stored, err := eventstore.BuildStoredEvent(fixtures.HotelRenamedEventType, fixtures.HotelRenamedDiscriminator, payload)
	require.NoError(t, err, "error in arranging test data")

	_, err = store.AppendToStream(
		context.Background(),
		givenStreamID(t, fixtures.HotelAggregateKind+"-"+hotelID),
		fixtures.HotelAggregateKind,
		eventstore.StoredEvents{stored},
		eventstore.ExpectAny(),
	)
	require.NoError(t, err, "error in arranging test data")
}
