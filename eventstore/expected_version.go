package eventstore

import "fmt"

type expectedVersionKind int

const (
	expectedVersionAny expectedVersionKind = iota
	expectedVersionNone
	expectedVersionExactly
)

// ExpectedVersion is the tri-state optimistic concurrency predicate
// evaluated by AppendToStream:
//
//   - ExpectAny: skip the version check entirely
//   - ExpectNone: the stream must not yet exist
//   - ExpectExactly(n): the current stream version must equal n
//
// The zero value is ExpectAny. Immutable.
type ExpectedVersion struct {
	kind    expectedVersionKind
	version StreamVersionUint
}

// ExpectAny builds the predicate that never fails on version grounds.
func ExpectAny() ExpectedVersion {
	return ExpectedVersion{kind: expectedVersionAny}
}

// ExpectNone builds the predicate that only holds for a stream without any events.
func ExpectNone() ExpectedVersion {
	return ExpectedVersion{kind: expectedVersionNone}
}

// ExpectExactly builds the predicate that only holds when the current
// stream version equals the given version.
func ExpectExactly(version StreamVersionUint) ExpectedVersion {
	return ExpectedVersion{kind: expectedVersionExactly, version: version}
}

// Matches evaluates the predicate against the current stream version.
func (ev ExpectedVersion) Matches(current StreamVersionUint) bool {
	switch ev.kind {
	case expectedVersionNone:
		return current == 0
	case expectedVersionExactly:
		return current == ev.version
	default:
		return true
	}
}

// IsAny reports whether the version check is skipped.
func (ev ExpectedVersion) IsAny() bool {
	return ev.kind == expectedVersionAny
}

// Exactly returns the exact version and whether the predicate carries one.
func (ev ExpectedVersion) Exactly() (StreamVersionUint, bool) {
	return ev.version, ev.kind == expectedVersionExactly
}

// String renders the predicate for error messages and logs.
func (ev ExpectedVersion) String() string {
	switch ev.kind {
	case expectedVersionNone:
		return "none"
	case expectedVersionExactly:
		return fmt.Sprintf("exactly(%d)", ev.version)
	default:
		return "any"
	}
}
