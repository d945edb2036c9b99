package eventstore

import (
	"errors"
	"time"
)

var ErrInvalidPayloadJSON = errors.New("payload json is not valid")
var ErrEmptyEventType = errors.New("event type must not be empty")

// StreamVersionUint is a type alias for uint, representing the 1-based,
// strictly increasing position of an event within its stream.
type StreamVersionUint = uint

// StoredEvents is an alias type for a slice of StoredEvent.
type StoredEvents = []StoredEvent

// StoredEvent is a DTO (data transfer object) used by the stream stores to
// append events and query them back.
//
// It is built on scalars to be completely agnostic of the implementation of
// domain events in the client code. StreamVersion, StreamID, StreamType and
// OccurredAt are assigned by the store during an append; callers only supply
// the event type, the decode discriminator and the payload.
//
// While its properties are exported, it should only be constructed with the
// supplied factory method BuildStoredEvent.
type StoredEvent struct {
	StreamVersion StreamVersionUint
	StreamID      string
	StreamType    string
	EventType     string
	Discriminator string
	OccurredAt    time.Time
	PayloadJSON   []byte
}

// BuildStoredEvent is a factory method for StoredEvent.
//
// It populates the StoredEvent with the given scalar input.
// An empty discriminator falls back to the event type tag.
// Returns an error if payloadJSON is not valid JSON.
func BuildStoredEvent(eventType string, discriminator string, payloadJSON []byte) (StoredEvent, error) {
	if eventType == "" {
		return StoredEvent{}, ErrEmptyEventType
	}

	if !marshaller.Valid(payloadJSON) {
		return StoredEvent{}, ErrInvalidPayloadJSON
	}

	if discriminator == "" {
		discriminator = eventType
	}

	return StoredEvent{
		EventType:     eventType,
		Discriminator: discriminator,
		PayloadJSON:   payloadJSON,
	}, nil
}
