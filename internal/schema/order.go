package schema

import (
	"github.com/shopspring/decimal"
)

// OrderKind identifies the execution style of an order.
type OrderKind string

const (
	// OrderKindMarket executes immediately at the prevailing price.
	OrderKindMarket OrderKind = "market"
	// OrderKindLimit executes at the limit price or better.
	OrderKindLimit OrderKind = "limit"
)

// TimeInForce constrains how long an order remains working.
type TimeInForce string

const (
	// TimeInForceGoodUntilCancelled keeps the order working until cancelled.
	TimeInForceGoodUntilCancelled TimeInForce = "good_until_cancelled"
	// TimeInForceGoodUntilEndOfDay keeps the order working until the session ends.
	TimeInForceGoodUntilEndOfDay TimeInForce = "good_until_end_of_day"
	// TimeInForceFillOrKill requires the full quantity to fill immediately.
	TimeInForceFillOrKill TimeInForce = "fill_or_kill"
	// TimeInForceImmediateOrCancel fills what it can immediately, expiring the rest.
	TimeInForceImmediateOrCancel TimeInForce = "immediate_or_cancel"
)

// ClientOrderID is the caller-assigned order identifier, unique per instrument.
type ClientOrderID string

// OrderID is the exchange-assigned order identifier.
type OrderID string

// StrategyID names the strategy that produced an order request.
type StrategyID string

// StrategyIDUnknown marks orders whose origin strategy is not recorded.
const StrategyIDUnknown StrategyID = "unknown"

// OrderKey uniquely identifies an order across the engine.
type OrderKey struct {
	Exchange   ExchangeID    `json:"exchange"`
	Instrument string        `json:"instrument"`
	Strategy   StrategyID    `json:"strategy"`
	ClientID   ClientOrderID `json:"cid"`
}

// RequestOpen carries the parameters of a proposed order.
type RequestOpen struct {
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Kind        OrderKind       `json:"kind"`
	TimeInForce TimeInForce     `json:"time_in_force"`
}

// OrderRequestOpen is a strategy request to open an order.
type OrderRequestOpen struct {
	Key   OrderKey    `json:"key"`
	State RequestOpen `json:"state"`
}

// OrderRequestCancel is a strategy request to cancel a working order.
type OrderRequestCancel struct {
	Key     OrderKey `json:"key"`
	OrderID OrderID  `json:"order_id,omitempty"`
}
