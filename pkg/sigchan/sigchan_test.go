package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitCoalesces(t *testing.T) {
	c := New(1)
	assert.True(t, c.Emit())
	assert.False(t, c.Emit())
	assert.Equal(t, 1, c.Pending())

	<-c.C()
	assert.Equal(t, 0, c.Pending())
	assert.True(t, c.Emit())
}

func TestNewClampsBuffer(t *testing.T) {
	c := New(0)
	assert.True(t, c.Emit())
	assert.Equal(t, 1, c.Pending())
}
