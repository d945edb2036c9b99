package session

// Event is the contract domain events implement so the session layer can
// persist them and fold them into aggregate state.
type Event interface {
	EventType() string
	PayloadToJSON() ([]byte, error)
}

// Events is an alias type for a slice of Event.
type Events = []Event
