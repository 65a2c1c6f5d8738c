package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Task 投递到工作池的一次 IO 动作。
type Task struct {
	Name    string
	Timeout time.Duration
	Do      func(ctx context.Context)
	// OnDrop 停机时任务仍在队列里未执行，则调用它做补偿
	OnDrop func()
}

// WorkerPool 有界队列 + 固定 worker。
// 队列满时 Submit 立即返回 false，不阻塞事件分发。
type WorkerPool struct {
	name    string
	workers int
	log     *logrus.Entry

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	ch      chan Task
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewWorkerPool 创建工作池
func NewWorkerPool(name string, buffer, workers int) *WorkerPool {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		name:    name,
		workers: workers,
		log:     logrus.WithFields(logrus.Fields{"component": "worker_pool", "pool": name}),
		ch:      make(chan Task, buffer),
	}
}

// Start 启动 worker（只生效一次）
func (p *WorkerPool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.mu.Lock()
		p.ctx, p.cancel = context.WithCancel(ctx)
		p.mu.Unlock()

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(i)
		}
		p.log.Infof("✅ 工作池已启动 (workers=%d buffer=%d)", p.workers, cap(p.ch))
	})
}

func (p *WorkerPool) loop(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.ch:
			if p.ctx.Err() != nil {
				// 已停机时与 Done 同时就绪，按未执行处理
				p.dropped.Add(1)
				p.dropSafely(task)
				return
			}
			p.run(workerID, task)
		}
	}
}

func (p *WorkerPool) run(workerID int, task Task) {
	if task.Do == nil {
		return
	}
	runCtx, cancel := p.ctx, context.CancelFunc(func() {})
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, task.Timeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("任务 panic: worker=%d task=%s panic=%v", workerID, task.Name, r)
		}
	}()
	task.Do(runCtx)
}

// Stop 停止 worker 并等待退出；队列里尚未执行的任务不再执行，逐个调用 OnDrop。
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if n := p.drain() + int(p.dropped.Swap(0)); n > 0 {
			p.log.Warnf("⚠️ 工作池停止时丢弃 %d 个未执行任务", n)
		}
		p.log.Infof("✅ 工作池已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("停止工作池 %s 超时: %w", p.name, ctx.Err())
	}
}

// drain 取出队列里剩余任务并调用 OnDrop；只在 worker 全部退出后调用
func (p *WorkerPool) drain() int {
	n := 0
	for {
		select {
		case task := <-p.ch:
			n++
			p.dropSafely(task)
		default:
			return n
		}
	}
}

func (p *WorkerPool) dropSafely(task Task) {
	if task.OnDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("OnDrop panic: task=%s panic=%v", task.Name, r)
		}
	}()
	task.OnDrop()
}

// Submit 非阻塞投递
func (p *WorkerPool) Submit(task Task) bool {
	select {
	case p.ch <- task:
		return true
	default:
		p.log.Warnf("⚠️ 队列已满，拒绝任务: %s", task.Name)
		return false
	}
}

// QueueLen 当前排队数
func (p *WorkerPool) QueueLen() int {
	return len(p.ch)
}
