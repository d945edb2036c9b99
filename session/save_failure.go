package session

import (
	"fmt"
	"strings"
)

// SaveFailure bundles every individual cause collected from one SaveChanges
// call. Per-entry failures are isolated, one entry's failure never blocks
// attempting the others, so a single call can produce several causes.
// Entries that succeeded remain committed; there is no compensating
// rollback.
type SaveFailure struct {
	Causes []error
}

// Error implements the error interface.
func (f *SaveFailure) Error() string {
	messages := make([]string, len(f.Causes))
	for i, cause := range f.Causes {
		messages[i] = cause.Error()
	}

	return fmt.Sprintf("save changes failed with %d error(s): %s", len(f.Causes), strings.Join(messages, "; "))
}

// Unwrap exposes the individual causes to errors.Is and errors.As.
func (f *SaveFailure) Unwrap() []error {
	return f.Causes
}
