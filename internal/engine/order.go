// Package engine holds the authoritative portfolio state mutated during a
// replay run: balances, per-instrument positions, and order lifecycles.
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/schema"
)

// OrderState names one stage of an order's lifecycle.
type OrderState string

const (
	StateOpenInFlight   OrderState = "open_in_flight"
	StateOpen           OrderState = "open"
	StateCancelInFlight OrderState = "cancel_in_flight"
	StateCancelled      OrderState = "cancelled"
	StateFullyFilled    OrderState = "fully_filled"
	StateExpired        OrderState = "expired"
	StateOpenFailed     OrderState = "open_failed"
)

// Terminal reports whether no further transitions are accepted.
func (s OrderState) Terminal() bool {
	switch s {
	case StateCancelled, StateFullyFilled, StateExpired, StateOpenFailed:
		return true
	}
	return false
}

// Order tracks a single order from dispatch to its terminal state.
type Order struct {
	Key            schema.OrderKey
	Side           schema.Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Kind           schema.OrderKind
	TimeInForce    schema.TimeInForce
	State          OrderState
	OrderID        schema.OrderID
	FilledQuantity decimal.Decimal
	TimeExchange   time.Time

	// Hold is the free balance reserved for this order: quote notional
	// for buys, base quantity for sells.
	Hold decimal.Decimal
}

// NewOrder builds an in-flight order from an approved open request.
func NewOrder(req schema.OrderRequestOpen) *Order {
	return &Order{
		Key:         req.Key,
		Side:        req.State.Side,
		Price:       req.State.Price,
		Quantity:    req.State.Quantity,
		Kind:        req.State.Kind,
		TimeInForce: req.State.TimeInForce,
		State:       StateOpenInFlight,
	}
}

func (o *Order) staleErr(event string) error {
	return errs.New("engine", errs.CodeStaleOrder,
		errs.WithMessage(fmt.Sprintf("%s for order %s in terminal state %s", event, o.Key.ClientID, o.State)))
}

// ApplyOpen records the exchange acknowledging the order.
func (o *Order) ApplyOpen(orderID schema.OrderID, timeExchange time.Time) error {
	if o.State.Terminal() {
		return o.staleErr("open ack")
	}
	if o.State == StateOpenInFlight {
		o.State = StateOpen
	}
	o.OrderID = orderID
	o.TimeExchange = timeExchange
	return nil
}

// ApplyFill adds a fill quantity, transitioning to FullyFilled when the
// cumulative fill reaches the requested quantity. Partial fills keep the
// current state.
func (o *Order) ApplyFill(quantity decimal.Decimal, timeExchange time.Time) error {
	if o.State.Terminal() {
		return o.staleErr("fill")
	}
	if quantity.Sign() <= 0 {
		return errs.New("engine", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("non-positive fill quantity %s for order %s", quantity, o.Key.ClientID)))
	}
	o.FilledQuantity = o.FilledQuantity.Add(quantity)
	o.TimeExchange = timeExchange
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.State = StateFullyFilled
	}
	return nil
}

// ApplyCancelInFlight records that a cancel request was dispatched.
// Filled quantity so far is preserved.
func (o *Order) ApplyCancelInFlight() error {
	if o.State.Terminal() {
		return o.staleErr("cancel request")
	}
	o.State = StateCancelInFlight
	return nil
}

// ApplyCancelled records the exchange confirming cancellation.
func (o *Order) ApplyCancelled(timeExchange time.Time) error {
	if o.State.Terminal() {
		return o.staleErr("cancel ack")
	}
	o.State = StateCancelled
	o.TimeExchange = timeExchange
	return nil
}

// ApplyExpired records a time-in-force violation.
func (o *Order) ApplyExpired(timeExchange time.Time) error {
	if o.State.Terminal() {
		return o.staleErr("expiry")
	}
	o.State = StateExpired
	o.TimeExchange = timeExchange
	return nil
}

// ApplyOpenFailed records the exchange rejecting the open.
func (o *Order) ApplyOpenFailed(timeExchange time.Time) error {
	if o.State.Terminal() {
		return o.staleErr("open reject")
	}
	if o.State != StateOpenInFlight {
		return errs.New("engine", errs.CodeStaleOrder,
			errs.WithMessage(fmt.Sprintf("open reject for order %s in state %s", o.Key.ClientID, o.State)))
	}
	o.State = StateOpenFailed
	o.TimeExchange = timeExchange
	return nil
}

// RemainingQuantity is the quantity still resting on the book.
func (o *Order) RemainingQuantity() decimal.Decimal {
	remaining := o.Quantity.Sub(o.FilledQuantity)
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}
