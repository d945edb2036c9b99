package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_JSONCodec_RoundTrip(t *testing.T) {
	codec := JSONCodec{}

	// arrange
	original := StoredEvent{
		StreamVersion: 3,
		StreamID:      "hotel-h1",
		StreamType:    "hotel",
		EventType:     "HotelRenamed",
		Discriminator: "fixtures.HotelRenamed",
		OccurredAt:    time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.UTC),
		PayloadJSON:   []byte(`{"name":"Grand Budapest"}`),
	}

	// act
	data, encodeErr := codec.Encode(original)
	decoded, decodeErr := codec.Decode(data)

	// assert
	assert.NoError(t, encodeErr)
	assert.NoError(t, decodeErr)
	assert.Equal(t, original.StreamVersion, decoded.StreamVersion)
	assert.Equal(t, original.StreamID, decoded.StreamID)
	assert.Equal(t, original.StreamType, decoded.StreamType)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.Discriminator, decoded.Discriminator)
	assert.True(t, original.OccurredAt.Equal(decoded.OccurredAt), "timestamp must round-trip")
	assert.JSONEq(t, string(original.PayloadJSON), string(decoded.PayloadJSON))
}

func Test_JSONCodec_Decode_ErrorCases(t *testing.T) {
	codec := JSONCodec{}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "garbage bytes", data: []byte(`this is not json`)},
		{name: "empty input", data: []byte(``)},
		{name: "missing event type", data: []byte(`{"streamVersion":1,"streamId":"s1","payload":{}}`)},
		{name: "missing stream version", data: []byte(`{"streamId":"s1","eventType":"X","payload":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// act
			_, err := codec.Decode(tt.data)

			// assert
			assert.ErrorIs(t, err, ErrDecodingEventFailed)
		})
	}
}

func Test_JSONCodec_FileExtension(t *testing.T) {
	assert.Equal(t, "json", JSONCodec{}.FileExtension())
}
