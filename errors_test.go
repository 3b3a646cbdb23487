package p2core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError("pool.Acquire", KindPoolExhausted, "no free slot")
	assert.True(t, errors.Is(err, NewError("", KindPoolExhausted, "")))
	assert.False(t, errors.Is(err, NewError("", KindRingOverflow, "")))
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	wrapped := WrapError("router.process", KindDestinationFailure, cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsKind(wrapped, KindDestinationFailure))
}

func TestWrapErrorNilReturnsNil(t *testing.T) {
	assert.Nil(t, WrapError("op", KindRingOverflow, nil))
}
