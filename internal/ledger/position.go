package ledger

import (
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/pkg/marketspec"
)

// PositionManager 买单成交后尚未转成卖单的数量/成本。
type PositionManager struct {
	spec        marketspec.SymbolSpec
	minNotional decimal.Decimal
	acquired    atomic.Pointer[domain.PositionSnapshot]
}

// NewPositionManager minNotional 为可卖出的最小名义价值。
func NewPositionManager(spec marketspec.SymbolSpec, minNotional decimal.Decimal) *PositionManager {
	m := &PositionManager{spec: spec, minNotional: minNotional}
	m.acquired.Store(&domain.PositionSnapshot{})
	return m
}

// AddAcquired 累加一笔买入成交；qty 先按数量精度截断。
func (m *PositionManager) AddAcquired(qty, quoteValue decimal.Decimal) domain.PositionSnapshot {
	q := m.spec.ScaleQty(qty)
	next := m.update(func(cur domain.PositionSnapshot) domain.PositionSnapshot {
		return cur.Add(q, quoteValue)
	})
	log.Debugf("[POSITION] +%s (%s) -> qty=%s value=%s", q, quoteValue, next.TotalQty, next.TotalValue)
	return next
}

// PullAcquired 原子地取出并清零，返回取出前的快照。
func (m *PositionManager) PullAcquired() domain.PositionSnapshot {
	empty := &domain.PositionSnapshot{}
	return *m.acquired.Swap(empty)
}

// RestoreAcquired 把取出的快照加回（卖单失败时使用）。
func (m *PositionManager) RestoreAcquired(s domain.PositionSnapshot) domain.PositionSnapshot {
	next := m.update(func(cur domain.PositionSnapshot) domain.PositionSnapshot {
		return cur.Merge(s)
	})
	log.Infof("[POSITION-RESTORE] 恢复 qty=%s value=%s -> qty=%s value=%s",
		s.TotalQty, s.TotalValue, next.TotalQty, next.TotalValue)
	return next
}

// IsSellable 累计价值是否达到最小名义价值。
func (m *PositionManager) IsSellable() bool {
	return m.Snapshot().TotalValue.GreaterThanOrEqual(m.minNotional)
}

// Snapshot 当前快照（只读）。
func (m *PositionManager) Snapshot() domain.PositionSnapshot {
	return *m.acquired.Load()
}

func (m *PositionManager) update(fn func(domain.PositionSnapshot) domain.PositionSnapshot) domain.PositionSnapshot {
	for {
		cur := m.acquired.Load()
		next := fn(*cur)
		if m.acquired.CompareAndSwap(cur, &next) {
			return next
		}
	}
}
