package eventstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ConcurrencyError(t *testing.T) {
	err := &ConcurrencyError{StreamID: "h1", Expected: ExpectExactly(3), Actual: 5}

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, `concurrency conflict on stream "h1": expected version exactly(3), actual version 5`, err.Error())
}

func Test_ConcurrencyError_SurvivesWrapping(t *testing.T) {
	wrapped := errors.Join(ErrAppendingEventsFailed, &ConcurrencyError{StreamID: "h1", Expected: ExpectNone(), Actual: 1})

	assert.ErrorIs(t, wrapped, ErrConcurrencyConflict)

	var conflict *ConcurrencyError
	assert.ErrorAs(t, wrapped, &conflict)
}
