package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerAllow(t *testing.T) {
	d := NewDebouncer(10 * time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	assert.True(t, d.Allow(t0))
	assert.False(t, d.Allow(t0.Add(5*time.Second)))
	ready, since := d.Ready(t0.Add(5 * time.Second))
	assert.False(t, ready)
	assert.Equal(t, 5*time.Second, since)

	assert.True(t, d.Allow(t0.Add(10*time.Second)))

	d.Reset()
	assert.True(t, d.Allow(t0.Add(11*time.Second)))
}

func TestDebouncerZeroInterval(t *testing.T) {
	d := NewDebouncer(0)
	now := time.Now()
	d.Mark(now)
	assert.True(t, d.Allow(now))
	assert.True(t, d.Allow(now))
}
