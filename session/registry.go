package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eventfold/eventfold/eventstore"
)

var ErrUnknownEventType = errors.New("unknown event type")

// DecodeFunc decodes one event payload into its domain event.
type DecodeFunc func(payload []byte) (Event, error)

type registration struct {
	discriminator string
	eventType     string
	decode        DecodeFunc
}

// Registry maps decode discriminators to decode functions, populated at
// startup. Decoding resolves by discriminator first and falls back to the
// event type tag; both failing is a hard decode error.
type Registry struct {
	mu              sync.RWMutex
	byDiscriminator map[string]registration
	byEventType     map[string]registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byDiscriminator: make(map[string]registration),
		byEventType:     make(map[string]registration),
	}
}

// Register adds a decoder for one event kind. Registering the same
// discriminator or event type again overwrites the previous entry.
func (r *Registry) Register(discriminator string, eventType string, decode DecodeFunc) {
	if discriminator == "" {
		discriminator = eventType
	}

	entry := registration{discriminator: discriminator, eventType: eventType, decode: decode}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byDiscriminator[discriminator] = entry
	r.byEventType[eventType] = entry
}

// Decode resolves the stored event's decoder and decodes its payload.
// Unresolvable records yield an error wrapping ErrUnknownEventType;
// a failing decoder yields an error wrapping eventstore.ErrDecodingEventFailed.
func (r *Registry) Decode(stored eventstore.StoredEvent) (Event, error) {
	r.mu.RLock()
	entry, ok := r.byDiscriminator[stored.Discriminator]
	if !ok {
		entry, ok = r.byEventType[stored.EventType]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf(
			"%w: discriminator %q, event type %q",
			ErrUnknownEventType, stored.Discriminator, stored.EventType,
		)
	}

	event, err := entry.decode(stored.PayloadJSON)
	if err != nil {
		return nil, errors.Join(eventstore.ErrDecodingEventFailed, err)
	}

	return event, nil
}

// DiscriminatorFor returns the registered discriminator for an event type
// tag, or the tag itself if the event kind was never registered.
func (r *Registry) DiscriminatorFor(eventType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.byEventType[eventType]; ok {
		return entry.discriminator
	}

	return eventType
}

// RegisterEvent registers a decoder for T under the given discriminator,
// deriving the event type tag from a zero value of T.
func RegisterEvent[T Event](r *Registry, discriminator string, decode func(payload []byte) (T, error)) {
	var sample T

	r.Register(discriminator, sample.EventType(), func(payload []byte) (Event, error) {
		return decode(payload)
	})
}
