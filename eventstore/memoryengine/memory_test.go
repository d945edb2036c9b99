package memoryengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/eventstore"
	"github.com/eventfold/eventfold/eventstore/memoryengine"
)

func givenStreamID(t *testing.T, value string) eventstore.StreamID {
	t.Helper()

	id, err := eventstore.BuildStreamID(value)
	require.NoError(t, err, "error in arranging test data")

	return id
}

func givenStoredEvent(t *testing.T, eventType string, payloadJSON string) eventstore.StoredEvent {
	t.Helper()

	event, err := eventstore.BuildStoredEvent(eventType, "", []byte(payloadJSON))
	require.NoError(t, err, "error in arranging test data")

	return event
}

func Test_StartStream_Then_Append_Then_Fetch(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memoryengine.New()
	streamID := givenStreamID(t, "h1")

	// act
	version1, startErr := es.StartStream(ctx, streamID, "hotel",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRegistered", `{"name":"Grand"}`)})

	version2, appendErr := es.AppendToStream(ctx, streamID, "hotel",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRenamed", `{"name":"Budapest"}`)},
		eventstore.ExpectExactly(1))

	eventStream, fetchErr := es.FetchStream(ctx, streamID)

	// assert
	assert.NoError(t, startErr)
	assert.Equal(t, eventstore.StreamVersionUint(1), version1)
	assert.NoError(t, appendErr)
	assert.Equal(t, eventstore.StreamVersionUint(2), version2)
	assert.NoError(t, fetchErr)
	require.Len(t, eventStream, 2)
	assert.Equal(t, eventstore.StreamVersionUint(1), eventStream[0].StreamVersion)
	assert.Equal(t, eventstore.StreamVersionUint(2), eventStream[1].StreamVersion)
	assert.Equal(t, "hotel", eventStream[0].StreamType)
}

func Test_Append_StampsEventsWithTheClock(t *testing.T) {
	// setup
	ctx := context.Background()
	fixedInstant := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	es := memoryengine.New(memoryengine.WithClock(eventstore.ClockFunc(func() time.Time { return fixedInstant })))
	streamID := givenStreamID(t, "h1")

	// act
	_, err := es.StartStream(ctx, streamID, "",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRegistered", `{}`)})
	require.NoError(t, err)

	eventStream, fetchErr := es.FetchStream(ctx, streamID)

	// assert
	assert.NoError(t, fetchErr)
	require.Len(t, eventStream, 1)
	assert.True(t, fixedInstant.Equal(eventStream[0].OccurredAt))
}

func Test_Append_When_ExpectedVersionDoesNotMatch(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memoryengine.New()
	streamID := givenStreamID(t, "h1")

	_, err := es.StartStream(ctx, streamID, "",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRegistered", `{}`)})
	require.NoError(t, err)

	// act
	_, appendErr := es.AppendToStream(ctx, streamID, "",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRenamed", `{}`)},
		eventstore.ExpectExactly(3))

	// assert
	assert.ErrorIs(t, appendErr, eventstore.ErrConcurrencyConflict)

	var conflict *eventstore.ConcurrencyError
	require.ErrorAs(t, appendErr, &conflict)
	assert.Equal(t, eventstore.StreamVersionUint(1), conflict.Actual)
}

func Test_Fetch_When_StreamWasNeverWritten(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memoryengine.New()
	streamID := givenStreamID(t, "never-written")

	// act
	eventStream, fetchErr := es.FetchStream(ctx, streamID)
	exists, existsErr := es.StreamExists(ctx, streamID)

	// assert
	assert.NoError(t, fetchErr)
	assert.Empty(t, eventStream)
	assert.NoError(t, existsErr)
	assert.False(t, exists)
}

func Test_Fetch_ReturnsACopyOfTheStream(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memoryengine.New()
	streamID := givenStreamID(t, "h1")

	_, err := es.StartStream(ctx, streamID, "",
		eventstore.StoredEvents{givenStoredEvent(t, "HotelRegistered", `{}`)})
	require.NoError(t, err)

	// act
	first, err := es.FetchStream(ctx, streamID)
	require.NoError(t, err)
	first[0].EventType = "Tampered"

	second, err := es.FetchStream(ctx, streamID)
	require.NoError(t, err)

	// assert
	assert.Equal(t, "HotelRegistered", second[0].EventType)
}

func Test_Append_UnderConcurrentWriters_KeepsVersionsContiguous(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memoryengine.New()
	streamID := givenStreamID(t, "h1")

	const writers = 8
	const eventsPerWriter = 10

	// act
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := 0; i < eventsPerWriter; i++ {
				_, err := es.AppendToStream(ctx, streamID, "",
					eventstore.StoredEvents{givenStoredEvent(t, "HotelRenamed", `{}`)},
					eventstore.ExpectAny())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// assert
	eventStream, err := es.FetchStream(ctx, streamID)
	assert.NoError(t, err)
	require.Len(t, eventStream, writers*eventsPerWriter)

	for i, event := range eventStream {
		assert.Equal(t, eventstore.StreamVersionUint(i+1), event.StreamVersion)
	}
}
