package domain

import "github.com/shopspring/decimal"

// PositionSnapshot 已买入但尚未挂卖的数量与成本（acquired lot）。
// 不可变值，更新时整体替换。
type PositionSnapshot struct {
	TotalQty   decimal.Decimal
	TotalValue decimal.Decimal
}

// Add 返回累加后的新快照。
func (p PositionSnapshot) Add(qty, value decimal.Decimal) PositionSnapshot {
	return PositionSnapshot{
		TotalQty:   p.TotalQty.Add(qty),
		TotalValue: p.TotalValue.Add(value),
	}
}

// Merge 合并另一个快照。
func (p PositionSnapshot) Merge(o PositionSnapshot) PositionSnapshot {
	return p.Add(o.TotalQty, o.TotalValue)
}

// AvgPrice 平均成本；数量非正时为 0。
func (p PositionSnapshot) AvgPrice() decimal.Decimal {
	if !p.TotalQty.IsPositive() {
		return decimal.Zero
	}
	return p.TotalValue.Div(p.TotalQty)
}

// IsEmpty 数量与价值都为 0。
func (p PositionSnapshot) IsEmpty() bool {
	return p.TotalQty.IsZero() && p.TotalValue.IsZero()
}
