package binance

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string         `json:"symbol"`
		Status     string         `json:"status"`
		BaseAsset  string         `json:"baseAsset"`
		QuoteAsset string         `json:"quoteAsset"`
		Filters    []symbolFilter `json:"filters"`
	} `json:"symbols"`
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
}

type accountInfo struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}
