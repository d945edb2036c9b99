package eventstore

import (
	"encoding/json"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Codec encodes and decodes one stored-event envelope.
// The concrete payload encoding stays opaque to the storage engines.
type Codec interface {
	Encode(event StoredEvent) ([]byte, error)
	Decode(data []byte) (StoredEvent, error)
	FileExtension() string
}

var marshaller = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonEnvelope is the persisted JSON shape of one StoredEvent.
type jsonEnvelope struct {
	StreamVersion StreamVersionUint `json:"streamVersion"`
	StreamID      string            `json:"streamId"`
	StreamType    string            `json:"streamType,omitempty"`
	EventType     string            `json:"eventType"`
	Discriminator string            `json:"discriminator"`
	OccurredAt    time.Time         `json:"occurredAt"`
	Payload       json.RawMessage   `json:"payload"`
}

// JSONCodec is the default Codec, one JSON document per stored event.
type JSONCodec struct{}

// Encode serializes the stored event into its JSON envelope.
func (JSONCodec) Encode(event StoredEvent) ([]byte, error) {
	envelope := jsonEnvelope{
		StreamVersion: event.StreamVersion,
		StreamID:      event.StreamID,
		StreamType:    event.StreamType,
		EventType:     event.EventType,
		Discriminator: event.Discriminator,
		OccurredAt:    event.OccurredAt.UTC(),
		Payload:       event.PayloadJSON,
	}

	data, err := marshaller.Marshal(envelope)
	if err != nil {
		return nil, errors.Join(ErrEncodingEventFailed, err)
	}

	return data, nil
}

// Decode parses one JSON envelope back into a StoredEvent.
// Any malformed or incomplete envelope yields an error wrapping
// ErrDecodingEventFailed.
func (JSONCodec) Decode(data []byte) (StoredEvent, error) {
	var envelope jsonEnvelope

	if err := marshaller.Unmarshal(data, &envelope); err != nil {
		return StoredEvent{}, errors.Join(ErrDecodingEventFailed, err)
	}

	if envelope.EventType == "" {
		return StoredEvent{}, errors.Join(ErrDecodingEventFailed, ErrEmptyEventType)
	}

	if envelope.StreamVersion == 0 {
		return StoredEvent{}, errors.Join(ErrDecodingEventFailed, errors.New("stream version is missing"))
	}

	return StoredEvent{
		StreamVersion: envelope.StreamVersion,
		StreamID:      envelope.StreamID,
		StreamType:    envelope.StreamType,
		EventType:     envelope.EventType,
		Discriminator: envelope.Discriminator,
		OccurredAt:    envelope.OccurredAt,
		PayloadJSON:   envelope.Payload,
	}, nil
}

// FileExtension returns the filename extension used by the filesystem engine.
func (JSONCodec) FileExtension() string {
	return "json"
}
