package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_UnwrapsToSentinel(t *testing.T) {
	err := NewError(ErrCodeInvalidCapacity, "initial capacity exceeds max").
		WithContext("initial", 10).
		WithContext("max", 5)

	assert.ErrorIs(t, err, ErrInvalidCapacity)
	assert.ErrorIs(t, fmt.Errorf("buffer: %w", err), ErrInvalidCapacity)
	assert.Contains(t, err.Error(), "initial capacity exceeds max")
	assert.Contains(t, err.Error(), "initial:10")

	var apiErr *Error
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &apiErr))
	assert.Equal(t, ErrCodeInvalidCapacity, apiErr.Code)
}

func TestError_NoContext(t *testing.T) {
	err := &Error{Code: ErrCodeInternal, Message: "corrupted handle"}
	assert.Equal(t, "corrupted handle", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
