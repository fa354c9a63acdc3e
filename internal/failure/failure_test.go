package failure_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
)

func TestCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("fund invoice 7: %w", failure.ErrAlreadyFunded)
	assert.Equal(t, "AlreadyFunded", failure.Code(err))
	assert.True(t, failure.IsRejection(err))
}

func TestCode_Internal(t *testing.T) {
	assert.Equal(t, "Internal", failure.Code(errors.New("connection reset")))
	assert.False(t, failure.IsRejection(errors.New("connection reset")))
	assert.Equal(t, "", failure.Code(nil))
	assert.False(t, failure.IsRejection(nil))
}

func TestSentinel_RoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		failure.ErrInvalidAttributes, failure.ErrPoolInsufficient, failure.ErrNotYetDue, failure.ErrConflict,
	} {
		assert.ErrorIs(t, failure.Sentinel(failure.Code(sentinel)), sentinel)
	}
	assert.Nil(t, failure.Sentinel("Bogus"))
}
