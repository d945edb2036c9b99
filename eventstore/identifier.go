package eventstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is the sentinel wrapped by every ValidationError.
var ErrInvalidIdentifier = errors.New("invalid identifier")

const maxStreamIDLength = 200

// forbiddenIdentifierChars are rejected in any position, they would either
// escape the stream directory or are reserved on common filesystems.
const forbiddenIdentifierChars = `/\:*?"<>|`

// ValidationError reports a malformed identifier value.
// It is raised synchronously at identifier construction, before any I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap allows callers to match with errors.Is(err, ErrInvalidIdentifier).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidIdentifier
}

// StreamID is a validated identifier for one event stream.
// It is immutable, construct it with BuildStreamID.
type StreamID struct {
	value string
}

// BuildStreamID is a factory method for StreamID.
//
// The value must be non-empty, at most 200 characters, must not contain a
// parent-directory segment or reserved characters, must not start or end
// with a dot or space, and must otherwise be alphanumeric with dot,
// underscore or dash separators.
func BuildStreamID(value string) (StreamID, error) {
	if err := validateIdentifier("stream id", value, maxStreamIDLength); err != nil {
		return StreamID{}, err
	}

	return StreamID{value: value}, nil
}

// String returns the identifier value.
func (id StreamID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never built.
func (id StreamID) IsZero() bool {
	return id.value == ""
}

// AggregateID is a validated identifier for one aggregate instance.
// It shares the traversal and character rules of StreamID but carries
// no length cap. Immutable, construct it with BuildAggregateID.
type AggregateID struct {
	value string
}

// BuildAggregateID is a factory method for AggregateID.
func BuildAggregateID(value string) (AggregateID, error) {
	if err := validateIdentifier("aggregate id", value, 0); err != nil {
		return AggregateID{}, err
	}

	return AggregateID{value: value}, nil
}

// String returns the identifier value.
func (id AggregateID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never built.
func (id AggregateID) IsZero() bool {
	return id.value == ""
}

// validateIdentifier applies the shared identifier rules.
// A maxLength of 0 disables the length check.
func validateIdentifier(field string, value string, maxLength int) error {
	if value == "" {
		return &ValidationError{Field: field, Value: value, Reason: "must not be empty"}
	}

	if maxLength > 0 && len(value) > maxLength {
		return &ValidationError{
			Field:  field,
			Value:  value,
			Reason: fmt.Sprintf("must not exceed %d characters", maxLength),
		}
	}

	if strings.Contains(value, "..") {
		return &ValidationError{Field: field, Value: value, Reason: "must not contain a parent-directory segment"}
	}

	if idx := strings.IndexAny(value, forbiddenIdentifierChars); idx >= 0 {
		return &ValidationError{
			Field:  field,
			Value:  value,
			Reason: fmt.Sprintf("must not contain %q", value[idx]),
		}
	}

	first, last := value[0], value[len(value)-1]
	if first == '.' || first == ' ' || last == '.' || last == ' ' {
		return &ValidationError{Field: field, Value: value, Reason: "must not start or end with a dot or space"}
	}

	for _, r := range value {
		if !isAllowedIdentifierRune(r) {
			return &ValidationError{
				Field:  field,
				Value:  value,
				Reason: fmt.Sprintf("must not contain %q", r),
			}
		}
	}

	return nil
}

func isAllowedIdentifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}
