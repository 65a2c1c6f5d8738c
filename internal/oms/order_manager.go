package oms

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/pkg/cache"
)

var log = logrus.WithField("component", "oms")

// OrderManager 挂单登记表（买/卖各一张表）+ 已撤卖单池。
//
// 事件分发 goroutine 与执行器回调并发调用；买卖两侧各自加锁，
// 同一侧的“检查已关闭 + 写入”和“标记已关闭 + 删除”在同一把锁内完成。
type OrderManager struct {
	cfg Config

	buyMu  sync.RWMutex
	buys   map[int64]domain.OrderRecord
	sellMu sync.RWMutex
	sells  map[int64]domain.OrderRecord

	canceled canceledQueue
	closed   *cache.ClosedIDSet
}

// NewOrderManager 创建登记表
func NewOrderManager(cfg Config) *OrderManager {
	cfg = cfg.withDefaults()
	return &OrderManager{
		cfg:    cfg,
		buys:   make(map[int64]domain.OrderRecord),
		sells:  make(map[int64]domain.OrderRecord),
		closed: cache.NewClosedIDSet(cfg.ClosedIDCapacity, cfg.ClosedIDTTL),
	}
}

// Close 释放后台资源
func (m *OrderManager) Close() {
	m.closed.Close()
}

// Config 当前参数
func (m *OrderManager) Config() Config { return m.cfg }

// ---------------------------------------------------------------------------
// 公共
// ---------------------------------------------------------------------------

// OpenOrderCount 买卖挂单总数
func (m *OrderManager) OpenOrderCount() int {
	return m.BuyOrderCount() + m.SellOrderCount()
}

// HasOpenOrderCapacity 总挂单数 < 上限 - 余量
func (m *OrderManager) HasOpenOrderCapacity() bool {
	return m.OpenOrderCount() < m.cfg.MaxOpenOrders-m.cfg.OpenOrdersMargin
}

// ---------------------------------------------------------------------------
// 买单
// ---------------------------------------------------------------------------

// BuyOrderCount 买单数
func (m *OrderManager) BuyOrderCount() int {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()
	return len(m.buys)
}

// AddBuyOrder 登记买单；已存在或已关闭时忽略，返回是否新写入。
func (m *OrderManager) AddBuyOrder(r domain.OrderRecord) bool {
	m.buyMu.Lock()
	defer m.buyMu.Unlock()
	return m.addLocked(m.buys, r, "[CLOSED-BUY]")
}

// RemoveBuyOrder 删除买单并标记 id 已关闭，返回删除前是否存在。
func (m *OrderManager) RemoveBuyOrder(id int64) bool {
	m.buyMu.Lock()
	defer m.buyMu.Unlock()
	return m.removeLocked(m.buys, id)
}

// ContainsBuyOrder 是否仍在登记表中
func (m *OrderManager) ContainsBuyOrder(id int64) bool {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()
	_, ok := m.buys[id]
	return ok
}

// HasBuyOrderAt 是否已有同价买单
func (m *OrderManager) HasBuyOrderAt(price decimal.Decimal) bool {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()
	for _, o := range m.buys {
		if o.NumericPrice.Equal(price) {
			return true
		}
	}
	return false
}

// FindConflictingBuyOrder 找一个与 newPrice 相近但不相等的买单：
// 0 < |existing - new| < existing * tolerance。同价由 HasBuyOrderAt 处理。
func (m *OrderManager) FindConflictingBuyOrder(newPrice decimal.Decimal) (domain.OrderRecord, bool) {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()

	var (
		best  domain.OrderRecord
		found bool
	)
	for _, o := range m.buys {
		if !o.NumericPrice.IsPositive() {
			continue
		}
		diff := o.NumericPrice.Sub(newPrice).Abs()
		if diff.IsZero() || !m.withinTolerance(o.NumericPrice, newPrice) {
			continue
		}
		// 多个命中时取 id 最小的，保证结果确定
		if !found || o.OrderID < best.OrderID {
			best, found = o, true
		}
	}
	return best, found
}

// IsBuyOrdersFull 买单数超过上限
func (m *OrderManager) IsBuyOrdersFull() bool {
	return m.BuyOrderCount() > m.cfg.BuyOrdersLimit
}

// OldestBuyOrder id 最小的买单
func (m *OrderManager) OldestBuyOrder() (domain.OrderRecord, bool) {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()
	var (
		oldest domain.OrderRecord
		found  bool
	)
	for _, o := range m.buys {
		if !found || o.OrderID < oldest.OrderID {
			oldest, found = o, true
		}
	}
	return oldest, found
}

// BuyOrders 买单快照，按 id 升序
func (m *OrderManager) BuyOrders() []domain.OrderRecord {
	m.buyMu.RLock()
	defer m.buyMu.RUnlock()
	return sortedByID(m.buys)
}

// ---------------------------------------------------------------------------
// 卖单
// ---------------------------------------------------------------------------

// SellOrderCount 卖单数
func (m *OrderManager) SellOrderCount() int {
	m.sellMu.RLock()
	defer m.sellMu.RUnlock()
	return len(m.sells)
}

// AddSellOrder 登记卖单；已存在或已关闭时忽略，返回是否新写入。
func (m *OrderManager) AddSellOrder(r domain.OrderRecord) bool {
	m.sellMu.Lock()
	defer m.sellMu.Unlock()
	return m.addLocked(m.sells, r, "[CLOSED-SELL]")
}

// RemoveSellOrder 删除卖单并标记 id 已关闭，返回删除前是否存在。
func (m *OrderManager) RemoveSellOrder(id int64) bool {
	m.sellMu.Lock()
	defer m.sellMu.Unlock()
	return m.removeLocked(m.sells, id)
}

// ContainsSellOrder 是否仍在登记表中
func (m *OrderManager) ContainsSellOrder(id int64) bool {
	m.sellMu.RLock()
	defer m.sellMu.RUnlock()
	_, ok := m.sells[id]
	return ok
}

// IsSellOrdersFull 卖单数超过上限
func (m *OrderManager) IsSellOrdersFull() bool {
	return m.SellOrderCount() > m.cfg.SellOrdersLimit
}

// IsSellOrdersRestorable 卖单数低于下限，可以恢复已撤卖单
func (m *OrderManager) IsSellOrdersRestorable() bool {
	return m.SellOrderCount() < m.cfg.SellOrdersFloor
}

// HighestPriceSellOrder 价格最高的卖单（同价取 id 大的）
func (m *OrderManager) HighestPriceSellOrder() (domain.OrderRecord, bool) {
	m.sellMu.RLock()
	defer m.sellMu.RUnlock()
	var (
		top   domain.OrderRecord
		found bool
	)
	for _, o := range m.sells {
		if !found {
			top, found = o, true
			continue
		}
		c := o.NumericPrice.Cmp(top.NumericPrice)
		if c > 0 || (c == 0 && o.OrderID > top.OrderID) {
			top = o
		}
	}
	return top, found
}

// SellOrders 卖单快照，按 id 升序
func (m *OrderManager) SellOrders() []domain.OrderRecord {
	m.sellMu.RLock()
	defer m.sellMu.RUnlock()
	return sortedByID(m.sells)
}

// ConflictsWithSellOrders 新买价是否落在某个挂着的卖单成本价容差内
func (m *OrderManager) ConflictsWithSellOrders(newPrice decimal.Decimal) bool {
	m.sellMu.RLock()
	defer m.sellMu.RUnlock()
	for _, o := range m.sells {
		if o.AvgBuyPrice != nil && m.withinTolerance(*o.AvgBuyPrice, newPrice) {
			return true
		}
	}
	return false
}

// ConflictsWithHoldings 在 ConflictsWithSellOrders 基础上也检查已撤卖单池
func (m *OrderManager) ConflictsWithHoldings(newPrice decimal.Decimal) bool {
	if m.ConflictsWithSellOrders(newPrice) {
		return true
	}
	for _, o := range m.canceled.snapshot() {
		if o.AvgBuyPrice != nil && m.withinTolerance(*o.AvgBuyPrice, newPrice) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// 已撤卖单池
// ---------------------------------------------------------------------------

// AddCanceledOrder 放入已撤卖单池
func (m *OrderManager) AddCanceledOrder(r domain.OrderRecord) {
	m.canceled.push(r)
	log.Debugf("[CANCELED-POOL] 入池 %s | 池大小: %d", r, m.canceled.len())
}

// PollLowestPriceCanceledOrder 取出价格最低的已撤卖单
func (m *OrderManager) PollLowestPriceCanceledOrder() (domain.OrderRecord, bool) {
	return m.canceled.poll()
}

// HasCanceledOrders 池是否非空
func (m *OrderManager) HasCanceledOrders() bool {
	return m.canceled.len() > 0
}

// CanceledOrderCount 池大小
func (m *OrderManager) CanceledOrderCount() int {
	return m.canceled.len()
}

// ---------------------------------------------------------------------------

func (m *OrderManager) addLocked(book map[int64]domain.OrderRecord, r domain.OrderRecord, tag string) bool {
	if m.closed.Contains(r.OrderID) {
		log.Debugf("%s 已关闭订单不再登记 | 订单号: %d", tag, r.OrderID)
		return false
	}
	if _, ok := book[r.OrderID]; ok {
		return false
	}
	book[r.OrderID] = r
	return true
}

func (m *OrderManager) removeLocked(book map[int64]domain.OrderRecord, id int64) bool {
	m.closed.Mark(id)
	if _, ok := book[id]; !ok {
		return false
	}
	delete(book, id)
	return true
}

// withinTolerance |ref - p| < ref * tolerance
func (m *OrderManager) withinTolerance(ref, p decimal.Decimal) bool {
	return ref.Sub(p).Abs().LessThan(ref.Mul(m.cfg.ConflictTolerance))
}

func sortedByID(book map[int64]domain.OrderRecord) []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, len(book))
	for _, o := range book {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}
