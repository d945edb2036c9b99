package eventstore

import "time"

// Clock is the time source injected into the storage engines.
// Every appended event is stamped with the clock's current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, it returns the wall time in UTC.
type SystemClock struct{}

// Now returns the current UTC instant.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the instant produced by the wrapped function.
func (f ClockFunc) Now() time.Time {
	return f()
}
