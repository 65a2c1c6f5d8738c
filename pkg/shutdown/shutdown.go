package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。回调按注册的逆序执行（后启动的先关闭）。
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只生效一次）。
// ctx 应该带超时；超时后剩余回调仍会以已取消的 ctx 调用，以便它们尽快返回。
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() { m.run(ctx) })
}

func (m *Manager) run(ctx context.Context) {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		log.Info("没有注册的关闭回调")
		return
	}
	log.Infof("🛑 开始优雅关闭，共 %d 个回调", len(callbacks))

	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		start := time.Now()
		if err := cb.fn(ctx); err != nil {
			log.Warnf("关闭 %s 失败: %v", cb.name, err)
			continue
		}
		log.Debugf("已关闭 %s (%s)", cb.name, time.Since(start))
	}

	if err := ctx.Err(); err != nil {
		log.Warnf("关闭超时: %v", err)
		return
	}
	log.Info("✅ 所有关闭回调已完成")
}
