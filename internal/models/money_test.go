package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAmount(t *testing.T) {
	t.Run("adds signed values", func(t *testing.T) {
		sum, err := AddAmount(500, -200)
		assert.NoError(t, err)
		assert.Equal(t, int64(300), sum)
	})

	t.Run("positive overflow", func(t *testing.T) {
		_, err := AddAmount(math.MaxInt64, 1)
		assert.ErrorIs(t, err, ErrAmountOverflow)
	})

	t.Run("negative overflow", func(t *testing.T) {
		_, err := AddAmount(math.MinInt64, -1)
		assert.ErrorIs(t, err, ErrAmountOverflow)
	})

	t.Run("boundary values are fine", func(t *testing.T) {
		sum, err := AddAmount(math.MaxInt64, 0)
		assert.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), sum)

		sum, err = AddAmount(math.MaxInt64, math.MinInt64)
		assert.NoError(t, err)
		assert.Equal(t, int64(-1), sum)
	})
}

func TestNegateAmount(t *testing.T) {
	neg, err := NegateAmount(300)
	assert.NoError(t, err)
	assert.Equal(t, int64(-300), neg)

	neg, err = NegateAmount(-300)
	assert.NoError(t, err)
	assert.Equal(t, int64(300), neg)

	_, err = NegateAmount(math.MinInt64)
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestIsPositiveAmount(t *testing.T) {
	assert.True(t, IsPositiveAmount(1))
	assert.False(t, IsPositiveAmount(0))
	assert.False(t, IsPositiveAmount(-1))
}
