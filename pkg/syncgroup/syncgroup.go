// Package syncgroup 对 sync.WaitGroup 的薄封装：登记一批 goroutine 函数后一次性启动，
// 之后可以等待它们全部退出再开始下一批（连接级 goroutine 的生命周期管理）。
package syncgroup

import (
	"sync"
	"time"
)

// SyncGroup 管理一批 goroutine
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个函数，Run 时启动
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.pending = append(g.pending, fn)
	g.mu.Unlock()
}

// Run 启动所有已登记的函数并清空登记列表
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			fn()
		}()
	}
}

// Wait 等待所有已启动的 goroutine 退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitTimeout 最多等待 d，返回是否全部退出
func (g *SyncGroup) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
