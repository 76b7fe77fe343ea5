package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountEvent reports a change to balances or orders on a venue.
type AccountEvent struct {
	TimeExchange time.Time   `json:"time_exchange"`
	Exchange     ExchangeID  `json:"exchange"`
	Kind         AccountKind `json:"kind"`
}

// AccountKind is the sum of account payload variants: BalanceSnapshot,
// OrderSnapshot, OrderCancelled, OrderExpired, OrderOpenFailed, OwnTrade,
// and AccountSnapshot.
type AccountKind interface {
	accountKind()
}

// BalanceSnapshot reports the current balance of a single asset.
type BalanceSnapshot struct {
	Asset string          `json:"asset"`
	Total decimal.Decimal `json:"total"`
	Free  decimal.Decimal `json:"free"`
}

func (BalanceSnapshot) accountKind() {}

// OrderSnapshot acknowledges that an order exists on the exchange.
type OrderSnapshot struct {
	Key     OrderKey `json:"key"`
	OrderID OrderID  `json:"order_id"`
}

func (OrderSnapshot) accountKind() {}

// OrderCancelled confirms an order cancellation.
type OrderCancelled struct {
	Key     OrderKey `json:"key"`
	OrderID OrderID  `json:"order_id"`
}

func (OrderCancelled) accountKind() {}

// OrderExpired reports that an order's time-in-force constraint lapsed.
type OrderExpired struct {
	Key     OrderKey `json:"key"`
	OrderID OrderID  `json:"order_id,omitempty"`
}

func (OrderExpired) accountKind() {}

// OrderOpenFailed reports that the exchange rejected an open request.
type OrderOpenFailed struct {
	Key    OrderKey `json:"key"`
	Reason string   `json:"reason"`
}

func (OrderOpenFailed) accountKind() {}

// OwnTrade reports a fill of one of the account's own orders.
type OwnTrade struct {
	Key      OrderKey        `json:"key"`
	TradeID  string          `json:"trade_id"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fees     decimal.Decimal `json:"fees"`
	FeeAsset string          `json:"fee_asset"`
}

func (OwnTrade) accountKind() {}

// AccountSnapshot reports the full set of balances for the venue.
type AccountSnapshot struct {
	Balances []BalanceSnapshot `json:"balances"`
}

func (AccountSnapshot) accountKind() {}
