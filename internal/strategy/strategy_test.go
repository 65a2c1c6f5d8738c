package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/pkg/marketspec"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStrategy(t *testing.T, multiplier string) *TradingStrategy {
	t.Helper()
	spec, err := marketspec.New("BTCUSDT", "BTC", "USDT", d("0.01"), d("0.00001"))
	require.NoError(t, err)
	return New(spec, Config{
		MinOrderNotional:    d("5"),
		BuyWallThresholdUSD: d("10000"),
		TargetMultiplier:    d(multiplier),
	})
}

func depth(bids, asks [][2]string) *domain.DepthSnapshot {
	ds := &domain.DepthSnapshot{}
	for _, b := range bids {
		ds.Bids = append(ds.Bids, domain.PriceLevel(b))
	}
	for _, a := range asks {
		ds.Asks = append(ds.Asks, domain.PriceLevel(a))
	}
	return ds
}

func TestCalculateBuyOrderParams_PicksLargestWall(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	p := s.CalculateBuyOrderParams(depth([][2]string{
		{"100.05", "10"},
		{"100.00", "150"}, // 15000 USD
		{"99.90", "20"},
	}, nil))
	require.False(t, p.IsInvalid())
	assert.Equal(t, "100.01", p.Price.String())
	// 5 / 100.01 = 0.049995... -> 向上取整 0.05
	assert.Equal(t, "0.05", p.Qty.String())
	assert.True(t, p.QuoteValue().GreaterThanOrEqual(d("5")))
}

func TestCalculateBuyOrderParams_WeakWallIsInvalid(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	p := s.CalculateBuyOrderParams(depth([][2]string{
		{"100.00", "99.99"}, // 9999 USD
		{"99.00", "1"},
	}, nil))
	assert.True(t, p.IsInvalid())
}

func TestCalculateBuyOrderParams_EmptyOrMalformed(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	assert.True(t, s.CalculateBuyOrderParams(nil).IsInvalid())
	assert.True(t, s.CalculateBuyOrderParams(depth(nil, nil)).IsInvalid())
	assert.True(t, s.CalculateBuyOrderParams(depth([][2]string{{"x", "y"}}, nil)).IsInvalid())
}

func TestUpdateBestAskPrice(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	s.UpdateBestAskPrice(depth(nil, [][2]string{{"101.50", "1"}, {"101.60", "2"}}))
	assert.Equal(t, "101.49", s.BestAskFloor().String())

	s.UpdateBestAskPrice(depth(nil, nil))
	s.UpdateBestAskPrice(depth(nil, [][2]string{{"bad", "1"}}))
	s.UpdateBestAskPrice(nil)
	assert.Equal(t, "101.49", s.BestAskFloor().String())
}

func TestCalculateSellOrderParams_CostPlusMarginDominates(t *testing.T) {
	s := newTestStrategy(t, "1.01")
	// 缓存地板价 = 99.01 - 0.01 = 99
	s.UpdateBestAskPrice(depth(nil, [][2]string{{"99.01", "1"}}))
	require.Equal(t, "99", s.BestAskFloor().String())

	p := s.CalculateSellOrderParamsFor(d("0.123456"), d("100"))
	assert.Equal(t, "101", p.Price.String())
	assert.Equal(t, "0.12345", p.Qty.String())
}

func TestCalculateSellOrderParams_AskFloorDominates(t *testing.T) {
	s := newTestStrategy(t, "1.01")
	s.UpdateBestAskPrice(depth(nil, [][2]string{{"105.01", "1"}}))

	p := s.CalculateSellOrderParams(domain.PositionSnapshot{TotalQty: d("1"), TotalValue: d("100")})
	assert.Equal(t, "105", p.Price.String())
	assert.Equal(t, "1", p.Qty.String())
}

func TestCalculateSellOrderParams_TruncatesPrice(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	p := s.CalculateSellOrderParamsFor(d("1"), d("100.005"))
	// 100.005 * 1.002 = 100.20501 -> 100.20
	assert.Equal(t, "100.2", p.Price.String())
}

func TestImpliedAvgBuyPrice(t *testing.T) {
	s := newTestStrategy(t, "1.01")
	assert.Equal(t, "100", s.ImpliedAvgBuyPrice(d("101")).String())
}

func TestCalculateBuyOrderParams_QtyCoversMinNotionalAtFinePriceTick(t *testing.T) {
	spec, err := marketspec.New("XYZUSDT", "XYZ", "USDT", d("0.00000001"), d("1"))
	require.NoError(t, err)
	s := New(spec, Config{
		MinOrderNotional:    d("10"),
		BuyWallThresholdUSD: d("100"),
		TargetMultiplier:    d("1.002"),
	})

	p := s.CalculateBuyOrderParams(depth([][2]string{{"9.99999998", "1000"}}, nil))
	require.False(t, p.IsInvalid())
	assert.Equal(t, "9.99999999", p.Price.String())
	// 10 / 9.99999999 = 1.000000001 -> 向上取整 2
	assert.Equal(t, "2", p.Qty.String())
	assert.True(t, p.QuoteValue().GreaterThanOrEqual(d("10")))
}

func TestBuyQty_AlwaysMeetsMinNotional(t *testing.T) {
	s := newTestStrategy(t, "1.002")
	for _, price := range []string{"0.01", "3.33", "99.99", "100.01", "33333.33", "67890.12"} {
		qty := s.buyQty(d(price))
		assert.True(t, qty.Mul(d(price)).GreaterThanOrEqual(d("5")), "price=%s qty=%s", price, qty)
		// 少一个最小单位就不够
		assert.True(t, qty.Sub(d("0.00001")).Mul(d(price)).LessThan(d("5")), "price=%s qty=%s", price, qty)
	}
}
