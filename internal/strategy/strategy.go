package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/marketstate"
	"github.com/betbot/spotmm/pkg/marketspec"
)

var log = logrus.WithField("component", "strategy")

// Config 定价参数
type Config struct {
	MinOrderNotional    decimal.Decimal // 最小下单金额（报价资产）
	BuyWallThresholdUSD decimal.Decimal // 买墙名义价值下限
	TargetMultiplier    decimal.Decimal // 卖价 = 成本 * TargetMultiplier（最低加价）
}

// TradingStrategy 买墙跟随 + 成本加成卖出。
//
// 除了卖一地板价缓存外不持有可变状态，可并发调用。
type TradingStrategy struct {
	spec    marketspec.SymbolSpec
	cfg     Config
	bestAsk *marketstate.BestAsk
}

// New 创建策略
func New(spec marketspec.SymbolSpec, cfg Config) *TradingStrategy {
	return &TradingStrategy{spec: spec, cfg: cfg, bestAsk: marketstate.NewBestAsk()}
}

// TargetMultiplier 卖出加价倍数
func (s *TradingStrategy) TargetMultiplier() decimal.Decimal { return s.cfg.TargetMultiplier }

// BestAskFloor 当前缓存的卖一地板价
func (s *TradingStrategy) BestAskFloor() decimal.Decimal { return s.bestAsk.Load() }

// UpdateBestAskPrice 取最低卖价 - 1 tick 作为卖单地板价。
// 空盘口或解析失败时保持原值。
func (s *TradingStrategy) UpdateBestAskPrice(depth *domain.DepthSnapshot) {
	if depth == nil || len(depth.Asks) == 0 {
		return
	}
	var (
		lowest decimal.Decimal
		found  bool
	)
	for _, lvl := range depth.Asks {
		p, err := decimal.NewFromString(lvl.Price())
		if err != nil || !p.IsPositive() {
			continue
		}
		if !found || p.LessThan(lowest) {
			lowest, found = p, true
		}
	}
	if !found {
		return
	}
	floor := s.spec.ScalePrice(lowest.Sub(s.spec.PriceTickSize))
	s.bestAsk.Store(floor)
}

// CalculateBuyOrderParams 在最大挂量的买档（买墙）上方一个 tick 买入。
// 买墙名义价值不足、盘口为空或解析失败时返回无效结果。
func (s *TradingStrategy) CalculateBuyOrderParams(depth *domain.DepthSnapshot) domain.OrderParams {
	if !depth.HasBids() {
		return domain.InvalidOrderParams
	}

	var (
		wallPrice, wallQty decimal.Decimal
		found              bool
	)
	for _, lvl := range depth.Bids {
		p, q, err := lvl.Decimals()
		if err != nil {
			log.Debugf("[BUY-WALL] 跳过无法解析的档位 %v: %v", lvl, err)
			continue
		}
		if !found || q.GreaterThan(wallQty) {
			wallPrice, wallQty, found = p, q, true
		}
	}
	if !found || !wallPrice.IsPositive() {
		return domain.InvalidOrderParams
	}
	if wallPrice.Mul(wallQty).LessThan(s.cfg.BuyWallThresholdUSD) {
		return domain.InvalidOrderParams
	}

	price := s.spec.ScalePrice(wallPrice.Add(s.spec.PriceTickSize))
	qty := s.buyQty(price)
	return domain.OrderParams{Price: price, Qty: qty}
}

// buyQty minNotional / price，按数量精度向上取整，保证 qty*price >= minNotional。
func (s *TradingStrategy) buyQty(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	scale := s.spec.QtyScale()
	qty := s.cfg.MinOrderNotional.DivRound(price, scale).RoundCeil(scale)
	// DivRound 在数量精度处四舍五入，可能舍掉余数；不足时补一个最小单位
	step := decimal.New(1, -scale)
	for qty.Mul(price).LessThan(s.cfg.MinOrderNotional) {
		qty = qty.Add(step)
	}
	return qty
}

// CalculateSellOrderParams 按持仓快照的平均成本定卖价。
func (s *TradingStrategy) CalculateSellOrderParams(p domain.PositionSnapshot) domain.OrderParams {
	return s.CalculateSellOrderParamsFor(p.TotalQty, p.AvgPrice())
}

// CalculateSellOrderParamsFor 卖价 = max(成本 * 加价倍数, 卖一地板价)，价格/数量都截断到精度。
func (s *TradingStrategy) CalculateSellOrderParamsFor(qty, avgBuyPrice decimal.Decimal) domain.OrderParams {
	target := avgBuyPrice.Mul(s.cfg.TargetMultiplier)
	price := decimal.Max(target, s.bestAsk.Load())
	return domain.OrderParams{
		Price: s.spec.ScalePrice(price),
		Qty:   s.spec.ScaleQty(qty),
	}
}

// ImpliedAvgBuyPrice 由卖价反推成本：price / TargetMultiplier（截断到价格精度）。
func (s *TradingStrategy) ImpliedAvgBuyPrice(sellPrice decimal.Decimal) decimal.Decimal {
	if !s.cfg.TargetMultiplier.IsPositive() {
		return sellPrice
	}
	return s.spec.ScalePrice(sellPrice.DivRound(s.cfg.TargetMultiplier, s.spec.PriceScale()+8))
}
