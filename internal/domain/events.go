package domain

// MarketEvent 行情流事件（目前只有 *DepthSnapshot）。
type MarketEvent interface {
	isMarketEvent()
}

// UserEvent 用户流事件：*ExecutionReport / *AccountSnapshot / *BalanceDelta。
type UserEvent interface {
	isUserEvent()
}
