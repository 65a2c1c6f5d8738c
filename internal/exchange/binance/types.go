package binance

// REST 响应（只解析用到的字段）

type placeOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
}

type cancelOrderResponse struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"orderId"`
	OrigClientOrderID string `json:"origClientOrderId"`
	Status            string `json:"status"`
}

type accountResponse struct {
	UpdateTime int64 `json:"updateTime"`
	CanTrade   bool  `json:"canTrade"`
	Balances   []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
