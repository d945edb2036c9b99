package fixtures

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/eventfold/eventfold/session"
)

// HotelAggregateKind is the aggregate kind name, it prefixes the backing
// stream identifier.
const HotelAggregateKind = "hotel"

// Hotel is the demo aggregate: its entire state is derived by folding its
// stream's events in order.
type Hotel struct {
	session.Root

	Name  string
	Rates map[string]int64
}

// NewHotelID returns a random hotel identifier.
func NewHotelID() string {
	return uuid.NewString()
}

// RegisterHotel creates a fresh hotel aggregate with the registration event
// already emitted.
func RegisterHotel(id string, name string) (*Hotel, error) {
	hotel := &Hotel{}
	hotel.SetAggregateID(id)

	if err := session.Emit(hotel, HotelRegistered{HotelID: id, Name: name}); err != nil {
		return nil, err
	}

	return hotel, nil
}

// AggregateKind returns the aggregate kind name.
func (h *Hotel) AggregateKind() string {
	return HotelAggregateKind
}

// Rename emits a HotelRenamed event.
func (h *Hotel) Rename(name string) error {
	return session.Emit(h, HotelRenamed{Name: name})
}

// ChangeRoomRate emits a RoomRateChanged event.
func (h *Hotel) ChangeRoomRate(roomType string, nightlyRate int64) error {
	return session.Emit(h, RoomRateChanged{RoomType: roomType, NightlyRate: nightlyRate})
}

// Fold applies one event to the hotel state. It is the single state
// transition both replay and live emission converge on.
func (h *Hotel) Fold(event session.Event) error {
	switch e := event.(type) {
	case HotelRegistered:
		h.SetAggregateID(e.HotelID)
		h.Name = e.Name

	case HotelRenamed:
		h.Name = e.Name

	case RoomRateChanged:
		if h.Rates == nil {
			h.Rates = make(map[string]int64)
		}
		h.Rates[e.RoomType] = e.NightlyRate

	default:
		return fmt.Errorf("unexpected event %T for hotel aggregate", event)
	}

	return nil
}
