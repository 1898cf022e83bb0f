package rest

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

func (r *bybitResponse[T]) status() (int, string) {
	return r.RetCode, r.RetMsg
}

type retStatus interface {
	status() (int, string)
}

type instrumentInfo struct {
	List []struct {
		Symbol      string `json:"symbol"`
		BaseCoin    string `json:"baseCoin"`
		QuoteCoin   string `json:"quoteCoin"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			BasePrecision  string `json:"basePrecision"`
			QuotePrecision string `json:"quotePrecision"`
			MinOrderQty    string `json:"minOrderQty"`
			MinOrderAmt    string `json:"minOrderAmt"`
			QtyStep        string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

type executionList struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		ExecID      string `json:"execId"`
		Side        string `json:"side"`
		ExecPrice   string `json:"execPrice"`
		ExecQty     string `json:"execQty"`
		ExecTime    string `json:"execTime"`
	} `json:"list"`
}

// intervals maps Binance-style timeframe names onto Bybit kline intervals.
var intervals = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"12h": "720",
	"1d":  "D",
	"1w":  "W",
	"1M":  "M",
}
