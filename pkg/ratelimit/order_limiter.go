package ratelimit

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ratelimit")

// OrderLimiterConfig 下单频率预算配置。
type OrderLimiterConfig struct {
	Limit           int           // 窗口内允许的下单数（交易所口径）
	SafetyMargin    int           // 预留余量，count < Limit-SafetyMargin 才允许下单
	Window          time.Duration // 固定窗口长度
	MakerFillCredit int           // 每次 maker 成交回补的额度
}

// DefaultOrderLimiterConfig 交易所 10s 下单计数的默认参数。
func DefaultOrderLimiterConfig() OrderLimiterConfig {
	return OrderLimiterConfig{
		Limit:           100,
		SafetyMargin:    5,
		Window:          10 * time.Second,
		MakerFillCredit: 5,
	}
}

// OrderRateLimiter 固定窗口下单计数器（乐观更新 + 服务器校准）。
//
// - 窗口 id = floor(now / Window)，窗口推进时计数归零（CAS 保证只有一个调用方执行重置）
// - OnPlaced 每次本地下单 +1
// - OnFilled maker 成交回补，最低为 0
// - SyncFromServer 使用交易所响应头中的权威计数直接覆盖
//
// 所有方法无锁，可被任意多个 goroutine 并发调用。
type OrderRateLimiter struct {
	cfg      OrderLimiterConfig
	now      func() time.Time
	count    atomic.Int64
	windowID atomic.Int64
}

// NewOrderRateLimiter 创建下单计数器。
func NewOrderRateLimiter(cfg OrderLimiterConfig) *OrderRateLimiter {
	return newOrderRateLimiter(cfg, time.Now)
}

func newOrderRateLimiter(cfg OrderLimiterConfig, now func() time.Time) *OrderRateLimiter {
	def := DefaultOrderLimiterConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MakerFillCredit < 0 {
		cfg.MakerFillCredit = 0
	}
	l := &OrderRateLimiter{cfg: cfg, now: now}
	l.windowID.Store(l.currentWindowID())
	return l
}

// Count 当前窗口内的计数。
func (l *OrderRateLimiter) Count() int {
	return int(l.count.Load())
}

// Limit 交易所上限。
func (l *OrderRateLimiter) Limit() int {
	return l.cfg.Limit
}

// HasCapacity 先滚动窗口，再判断是否还有下单预算。
func (l *OrderRateLimiter) HasCapacity() bool {
	l.refreshWindow()
	return l.count.Load() < int64(l.cfg.Limit-l.cfg.SafetyMargin)
}

// OnPlaced 本地下单后乐观 +1。
func (l *OrderRateLimiter) OnPlaced() {
	n := l.count.Add(1)
	log.Debugf("[LIMIT-LOCAL] 下单 +1 | 当前: %d/%d", n, l.cfg.Limit)
}

// OnFilled maker 成交回补额度（不低于 0）。
func (l *OrderRateLimiter) OnFilled() {
	credit := int64(l.cfg.MakerFillCredit)
	for {
		cur := l.count.Load()
		next := cur - credit
		if next < 0 {
			next = 0
		}
		if l.count.CompareAndSwap(cur, next) {
			log.Debugf("[LIMIT-LOCAL] 成交回补 -%d | 当前: %d/%d", credit, next, l.cfg.Limit)
			return
		}
	}
}

// SyncFromServer 用交易所报告的计数覆盖本地值。
func (l *OrderRateLimiter) SyncFromServer(count int) {
	if count < 0 {
		return
	}
	l.count.Store(int64(count))
	log.Debugf("[LIMIT-SERVER] 同步完成 | 当前: %d/%d", count, l.cfg.Limit)
}

// SyncFromHeader 解析响应头中的计数；为空或格式错误时忽略。
func (l *OrderRateLimiter) SyncFromHeader(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Warnf("[LIMIT-SERVER] 响应头计数无效: %q", raw)
		return false
	}
	l.SyncFromServer(n)
	return true
}

func (l *OrderRateLimiter) refreshWindow() {
	newID := l.currentWindowID()
	lastID := l.windowID.Load()
	if newID <= lastID {
		return
	}
	if l.windowID.CompareAndSwap(lastID, newID) {
		l.count.Store(0)
		log.Debugf("[LIMIT-WINDOW] 窗口重置 (window=%d)", newID)
	}
}

func (l *OrderRateLimiter) currentWindowID() int64 {
	return l.now().UnixMilli() / l.cfg.Window.Milliseconds()
}
