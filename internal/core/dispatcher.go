package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/ports"
)

// Dispatcher 从行情/用户两个事件通道读取并分派给处理器。
// 两个通道各一个 goroutine，彼此之间不保证顺序。
type Dispatcher struct {
	market ports.MarketEventHandler
	user   ports.UserEventHandler
}

// NewDispatcher 创建分派器
func NewDispatcher(market ports.MarketEventHandler, user ports.UserEventHandler) *Dispatcher {
	return &Dispatcher{market: market, user: user}
}

// Run 阻塞直到 ctx 结束或两个通道都关闭。单个事件的 panic 被记录后继续处理。
func (d *Dispatcher) Run(ctx context.Context, marketCh <-chan domain.MarketEvent, userCh <-chan domain.UserEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-marketCh:
				if !ok {
					return nil
				}
				d.safe("market", func() { d.dispatchMarket(ev) })
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-userCh:
				if !ok {
					return nil
				}
				d.safe("user", func() { d.dispatchUser(ev) })
			}
		}
	})
	return g.Wait()
}

func (d *Dispatcher) dispatchMarket(ev domain.MarketEvent) {
	switch e := ev.(type) {
	case *domain.DepthSnapshot:
		d.market.OnDepth(e)
	default:
		log.Warnf("[DISPATCH] 未知行情事件: %T", ev)
	}
}

func (d *Dispatcher) dispatchUser(ev domain.UserEvent) {
	switch e := ev.(type) {
	case *domain.ExecutionReport:
		d.user.OnExecutionReport(e)
	case *domain.AccountSnapshot:
		d.user.OnAccountSnapshot(e)
	case *domain.BalanceDelta:
		d.user.OnBalanceDelta(e)
	default:
		log.Warnf("[DISPATCH] 未知用户事件: %T", ev)
	}
}

func (d *Dispatcher) safe(stream string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("❌ [DISPATCH] %s 事件处理 panic: %v", stream, fmt.Sprint(r))
		}
	}()
	fn()
}
