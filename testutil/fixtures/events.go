// Package fixtures provides a small hotel domain used by the tests:
// three event kinds, the Hotel aggregate, and a pre-wired decode registry.
package fixtures

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/eventfold/eventfold/session"
)

var marshaller = jsoniter.ConfigCompatibleWithStandardLibrary

// HotelRegisteredEventType is the event type identifier.
const HotelRegisteredEventType = "HotelRegistered"

// HotelRegisteredDiscriminator is the decode discriminator.
const HotelRegisteredDiscriminator = "fixtures.HotelRegistered"

// HotelRegistered represents when a hotel enters the portfolio.
type HotelRegistered struct {
	HotelID string `json:"hotelId"`
	Name    string `json:"name"`
}

// EventType returns the event type identifier.
func (e HotelRegistered) EventType() string {
	return HotelRegisteredEventType
}

// PayloadToJSON serializes the event payload.
func (e HotelRegistered) PayloadToJSON() ([]byte, error) {
	return marshaller.Marshal(e)
}

// HotelRegisteredFromJSON deserializes the event payload.
func HotelRegisteredFromJSON(payload []byte) (HotelRegistered, error) {
	var event HotelRegistered
	err := marshaller.Unmarshal(payload, &event)

	return event, err
}

// HotelRenamedEventType is the event type identifier.
const HotelRenamedEventType = "HotelRenamed"

// HotelRenamedDiscriminator is the decode discriminator.
const HotelRenamedDiscriminator = "fixtures.HotelRenamed"

// HotelRenamed represents when a hotel changes its public name.
type HotelRenamed struct {
	Name string `json:"name"`
}

// EventType returns the event type identifier.
func (e HotelRenamed) EventType() string {
	return HotelRenamedEventType
}

// PayloadToJSON serializes the event payload.
func (e HotelRenamed) PayloadToJSON() ([]byte, error) {
	return marshaller.Marshal(e)
}

// HotelRenamedFromJSON deserializes the event payload.
func HotelRenamedFromJSON(payload []byte) (HotelRenamed, error) {
	var event HotelRenamed
	err := marshaller.Unmarshal(payload, &event)

	return event, err
}

// RoomRateChangedEventType is the event type identifier.
const RoomRateChangedEventType = "RoomRateChanged"

// RoomRateChangedDiscriminator is the decode discriminator.
const RoomRateChangedDiscriminator = "fixtures.RoomRateChanged"

// RoomRateChanged represents when a room category gets a new nightly rate.
type RoomRateChanged struct {
	RoomType    string `json:"roomType"`
	NightlyRate int64  `json:"nightlyRate"`
}

// EventType returns the event type identifier.
func (e RoomRateChanged) EventType() string {
	return RoomRateChangedEventType
}

// PayloadToJSON serializes the event payload.
func (e RoomRateChanged) PayloadToJSON() ([]byte, error) {
	return marshaller.Marshal(e)
}

// RoomRateChangedFromJSON deserializes the event payload.
func RoomRateChangedFromJSON(payload []byte) (RoomRateChanged, error) {
	var event RoomRateChanged
	err := marshaller.Unmarshal(payload, &event)

	return event, err
}

// NewRegistry wires the decoders for all fixture event kinds.
func NewRegistry() *session.Registry {
	registry := session.NewRegistry()

	session.RegisterEvent(registry, HotelRegisteredDiscriminator, HotelRegisteredFromJSON)
	session.RegisterEvent(registry, HotelRenamedDiscriminator, HotelRenamedFromJSON)
	session.RegisterEvent(registry, RoomRateChangedDiscriminator, RoomRateChangedFromJSON)

	return registry
}
