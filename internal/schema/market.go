package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent is one element of the ordered historical stream driving a replay.
type MarketEvent struct {
	TimeExchange time.Time  `json:"time_exchange"`
	Exchange     ExchangeID `json:"exchange"`
	Instrument   string     `json:"instrument"`
	Kind         DataKind   `json:"kind"`
}

// DataKind is the sum of market payload variants. Implementations are Trade,
// Candle, OrderBookL1, Liquidation, and Disconnect; consumers switch
// exhaustively over the concrete type.
type DataKind interface {
	dataKind()
}

// Trade is a public trade print.
type Trade struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Side     Side            `json:"side"`
}

func (Trade) dataKind() {}

// Candle is an OHLCV bar.
type Candle struct {
	CloseTime  time.Time       `json:"close_time"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount uint64          `json:"trade_count"`
}

func (Candle) dataKind() {}

// OrderBookL1 is a top-of-book snapshot.
type OrderBookL1 struct {
	BidPrice    decimal.Decimal `json:"bid_price"`
	BidQuantity decimal.Decimal `json:"bid_quantity"`
	AskPrice    decimal.Decimal `json:"ask_price"`
	AskQuantity decimal.Decimal `json:"ask_quantity"`
}

func (OrderBookL1) dataKind() {}

// Mid returns the midpoint of the best bid and ask.
func (b OrderBookL1) Mid() decimal.Decimal {
	return b.BidPrice.Add(b.AskPrice).Div(decimal.NewFromInt(2))
}

// Liquidation is a forced-liquidation print.
type Liquidation struct {
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Time     time.Time       `json:"time"`
}

func (Liquidation) dataKind() {}

// Disconnect is a synthetic feed-discontinuity marker. It resets the
// data-fresh flag for the instrument but never mutates balances.
type Disconnect struct{}

func (Disconnect) dataKind() {}
