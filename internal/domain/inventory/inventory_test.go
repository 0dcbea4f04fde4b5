package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(t *testing.T, quantity int) *Record {
	t.Helper()
	r, err := NewRecord("p1", quantity, "", 0)
	require.NoError(t, err)
	return r
}

func TestAvailableQuantityDerivation(t *testing.T) {
	r := newRecord(t, 10)
	require.NoError(t, r.Apply(OpReserve, 4))

	assert.Equal(t, 10, r.Quantity)
	assert.Equal(t, 4, r.ReservedQuantity)
	assert.Equal(t, 6, r.AvailableQuantity())
}

func TestReserveFailsBeyondAvailable(t *testing.T) {
	r := newRecord(t, 10)
	require.NoError(t, r.Apply(OpReserve, 8))

	err := r.Apply(OpReserve, 3)
	require.ErrorIs(t, err, ErrInsufficientAvailable)
	assert.Equal(t, 8, r.ReservedQuantity)
}

func TestReservedNeverExceedsQuantity(t *testing.T) {
	r := newRecord(t, 5)
	require.NoError(t, r.Apply(OpReserve, 5))
	require.ErrorIs(t, r.Apply(OpReserve, 1), ErrInsufficientAvailable)
	assert.LessOrEqual(t, r.ReservedQuantity, r.Quantity)
}

func TestReleaseClampsAtZero(t *testing.T) {
	r := newRecord(t, 10)
	require.NoError(t, r.Apply(OpReserve, 4))
	require.NoError(t, r.Apply(OpRelease, 4))
	assert.Equal(t, 0, r.ReservedQuantity)

	// Duplicate release from a redelivered message must not error or go negative.
	require.NoError(t, r.Apply(OpRelease, 4))
	assert.Equal(t, 0, r.ReservedQuantity)
	assert.Equal(t, 10, r.AvailableQuantity())
}

func TestDecrementFailsBelowZero(t *testing.T) {
	r := newRecord(t, 3)
	require.ErrorIs(t, r.Apply(OpDecrement, 4), ErrInsufficientStock)
	require.NoError(t, r.Apply(OpDecrement, 3))
	assert.Equal(t, 0, r.Quantity)
}

func TestIncrement(t *testing.T) {
	r := newRecord(t, 3)
	require.NoError(t, r.Apply(OpIncrement, 7))
	assert.Equal(t, 10, r.Quantity)
}

func TestApplyRejectsNonPositiveQuantity(t *testing.T) {
	r := newRecord(t, 3)
	require.ErrorIs(t, r.Apply(OpReserve, 0), ErrInvalidQuantity)
	require.ErrorIs(t, r.Apply(OpIncrement, -1), ErrInvalidQuantity)
}

func TestApplyRejectsUnknownOperation(t *testing.T) {
	r := newRecord(t, 3)
	require.ErrorIs(t, r.Apply(Operation("destroy"), 1), ErrInvalidOperation)
}

func TestIsLowStock(t *testing.T) {
	r, err := NewRecord("p1", 10, "", 4)
	require.NoError(t, err)

	assert.False(t, r.IsLowStock())
	require.NoError(t, r.Apply(OpReserve, 6))
	assert.True(t, r.IsLowStock())
}

func TestInStock(t *testing.T) {
	r := newRecord(t, 2)
	assert.True(t, r.InStock(2))
	assert.False(t, r.InStock(3))
}
