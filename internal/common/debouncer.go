// Package common 跨包共享的小工具。
package common

import (
	"sync"
	"time"
)

// Debouncer 时间闸门：距离上次 Mark 超过 interval 才放行。
// 用于限制高频路径上的告警日志。
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Ready 是否可以执行（不修改状态）。since 为距上次 Mark 的时长。
func (d *Debouncer) Ready(now time.Time) (ready bool, since time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked(now)
}

func (d *Debouncer) readyLocked(now time.Time) (bool, time.Duration) {
	if d.interval <= 0 {
		return true, 0
	}
	if d.last.IsZero() {
		return true, d.interval
	}
	since := now.Sub(d.last)
	return since >= d.interval, since
}

// Mark 记录一次执行
func (d *Debouncer) Mark(now time.Time) {
	d.mu.Lock()
	d.last = now
	d.mu.Unlock()
}

// Allow Ready + Mark 的原子组合：放行时同时记录本次时间。
func (d *Debouncer) Allow(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok, _ := d.readyLocked(now)
	if ok {
		d.last = now
	}
	return ok
}

// Reset 清除记录，下次必定放行
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}
