package marketspec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolSpec 表示单一现货交易对的规格（精度 + 资产）。
//
// 所有价格/数量在发送或比较之前，都必须按 tick 的小数位截断（向下，不进位）。
// tick 本身只用于推导小数位（例如 0.01 -> 2 位），不要求价格是 tick 的整数倍。
type SymbolSpec struct {
	Symbol        string          // e.g. "BTCUSDT"
	BaseAsset     string          // e.g. "BTC"
	QuoteAsset    string          // e.g. "USDT"
	PriceTickSize decimal.Decimal // e.g. 0.01
	QtyTickSize   decimal.Decimal // e.g. 0.00001
}

var symbolRe = regexp.MustCompile(`^[A-Z0-9]+$`)

// New 创建并校验交易对规格。
func New(symbol, baseAsset, quoteAsset string, priceTick, qtyTick decimal.Decimal) (SymbolSpec, error) {
	s := SymbolSpec{
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		BaseAsset:     strings.ToUpper(strings.TrimSpace(baseAsset)),
		QuoteAsset:    strings.ToUpper(strings.TrimSpace(quoteAsset)),
		PriceTickSize: priceTick,
		QtyTickSize:   qtyTick,
	}
	if err := s.Validate(); err != nil {
		return SymbolSpec{}, err
	}
	return s, nil
}

// Validate 校验规格是否可用。
func (s SymbolSpec) Validate() error {
	if !symbolRe.MatchString(s.Symbol) {
		return fmt.Errorf("无效的 symbol: %q（仅允许大写字母/数字）", s.Symbol)
	}
	if s.QuoteAsset == "" {
		return fmt.Errorf("quote asset 不能为空")
	}
	if !s.PriceTickSize.IsPositive() {
		return fmt.Errorf("price tick 必须大于 0: %s", s.PriceTickSize)
	}
	if !s.QtyTickSize.IsPositive() {
		return fmt.Errorf("qty tick 必须大于 0: %s", s.QtyTickSize)
	}
	return nil
}

// PriceScale 价格小数位。
func (s SymbolSpec) PriceScale() int32 { return scaleOf(s.PriceTickSize) }

// QtyScale 数量小数位。
func (s SymbolSpec) QtyScale() int32 { return scaleOf(s.QtyTickSize) }

// ScalePrice 按价格精度向下截断。
func (s SymbolSpec) ScalePrice(v decimal.Decimal) decimal.Decimal {
	return v.RoundFloor(s.PriceScale())
}

// ScaleQty 按数量精度向下截断。
func (s SymbolSpec) ScaleQty(v decimal.Decimal) decimal.Decimal {
	return v.RoundFloor(s.QtyScale())
}

// FormatPrice 返回发送给交易所的价格字符串（固定小数位）。
func (s SymbolSpec) FormatPrice(v decimal.Decimal) string {
	return s.ScalePrice(v).StringFixed(s.PriceScale())
}

// FormatQty 返回发送给交易所的数量字符串（固定小数位）。
func (s SymbolSpec) FormatQty(v decimal.Decimal) string {
	return s.ScaleQty(v).StringFixed(s.QtyScale())
}

// scaleOf 由 tick 推导小数位：0.01 -> 2, 1 -> 0, 0.0010 -> 4（与字面量位数一致）。
func scaleOf(tick decimal.Decimal) int32 {
	if exp := tick.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
