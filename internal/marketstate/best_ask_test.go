package marketstate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBestAsk(t *testing.T) {
	b := NewBestAsk()
	assert.True(t, b.Load().IsZero())
	assert.False(t, b.IsFresh(time.Second))

	b.Store(decimal.RequireFromString("101.5"))
	assert.Equal(t, "101.5", b.Load().String())
	assert.True(t, b.IsFresh(time.Second))

	b.Store(decimal.Zero)
	assert.Equal(t, "101.5", b.Load().String())

	b.Reset()
	assert.True(t, b.Load().IsZero())
}
