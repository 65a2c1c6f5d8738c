package syncgroup

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroup_RunAndWait(t *testing.T) {
	g := NewSyncGroup()
	var n atomic.Int32
	for range 5 {
		g.Add(func() { n.Add(1) })
	}
	g.Add(nil)
	g.Run()
	g.Wait()
	assert.Equal(t, int32(5), n.Load())

	// 第二批只运行新登记的函数
	g.Add(func() { n.Add(10) })
	g.Run()
	g.Wait()
	assert.Equal(t, int32(15), n.Load())
}

func TestSyncGroup_WaitTimeout(t *testing.T) {
	g := NewSyncGroup()
	release := make(chan struct{})
	g.Add(func() { <-release })
	g.Run()

	assert.False(t, g.WaitTimeout(20*time.Millisecond))
	close(release)
	assert.True(t, g.WaitTimeout(time.Second))
}
