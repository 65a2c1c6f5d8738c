// Package risk 执行健康度监控。
package risk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/execution"
)

var log = logrus.WithField("component", "risk")

// ErrorStreak 统计连续的下单/撤单传输失败。
//
// 只做观测：达到阈值时 Health 返回错误（/healthz 变红）并记一条告警，
// 不干预交易决策。交易所拒单（rejected）属于正常业务结果，不计入。
type ErrorStreak struct {
	threshold int64

	consecutive atomic.Int64
	lastErrAt   atomic.Int64 // unix nano
	alerted     atomic.Bool
}

// NewErrorStreak threshold <= 0 表示关闭
func NewErrorStreak(threshold int) *ErrorStreak {
	return &ErrorStreak{threshold: int64(threshold)}
}

// ObserveAction 实现 execution.Observer
func (s *ErrorStreak) ObserveAction(ev execution.ActionEvent) {
	switch ev.Result {
	case execution.ResultOK:
		if s.consecutive.Swap(0) > 0 && s.alerted.CompareAndSwap(true, false) {
			log.Infof("✅ [健康] 下单/撤单已恢复")
		}
	case execution.ResultTransport:
		n := s.consecutive.Add(1)
		s.lastErrAt.Store(ev.OccurredAt.UnixNano())
		if s.tripped(n) && s.alerted.CompareAndSwap(false, true) {
			log.Errorf("🚨 [健康] 连续 %d 次请求失败: action=%s err=%v", n, ev.Action, ev.Err)
		}
	}
}

// Consecutive 当前连续失败次数
func (s *ErrorStreak) Consecutive() int64 { return s.consecutive.Load() }

// Health 达到阈值时返回错误
func (s *ErrorStreak) Health() error {
	n := s.consecutive.Load()
	if !s.tripped(n) {
		return nil
	}
	last := time.Unix(0, s.lastErrAt.Load())
	return fmt.Errorf("order execution: %d consecutive failures, last at %s", n, last.Format(time.RFC3339))
}

func (s *ErrorStreak) tripped(n int64) bool {
	return s.threshold > 0 && n >= s.threshold
}
