// Package strategy defines the decision-making collaborator invoked by the
// replay loop after every market event.
package strategy

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/schema"
)

// Strategy produces order requests from a fully-updated engine state. The
// state is read-only from the strategy's perspective.
type Strategy interface {
	GenerateOrders(state *engine.State) (cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen)
}

// Func adapts a plain function to Strategy.
type Func func(state *engine.State) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen)

func (f Func) GenerateOrders(state *engine.State) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	return f(state)
}

// Noop never trades. Useful for replaying market data through the analytics
// pipeline without order flow.
type Noop struct{}

func (Noop) GenerateOrders(*engine.State) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	return nil, nil
}

// CloseOpenPositions builds immediate-or-cancel market orders that flatten
// every open position, plus cancels for every working order. Typically run
// as the final step of a backtest so the summary reflects realised PnL only.
func CloseOpenPositions(state *engine.State, strategyID schema.StrategyID) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	var cancels []schema.OrderRequestCancel
	var opens []schema.OrderRequestOpen
	for key, instrument := range state.Instruments {
		for _, order := range instrument.OpenOrders() {
			cancels = append(cancels, schema.OrderRequestCancel{Key: order.Key, OrderID: order.OrderID})
		}
		position := instrument.Position
		if position == nil || !position.Quantity.IsPositive() {
			continue
		}
		opens = append(opens, schema.OrderRequestOpen{
			Key: schema.OrderKey{
				Exchange:   key.Exchange,
				Instrument: key.Instrument,
				Strategy:   strategyID,
				ClientID:   schema.ClientOrderID(uuid.NewString()),
			},
			State: schema.RequestOpen{
				Side:        position.Side.Opposite(),
				Price:       instrument.MarkPrice(),
				Quantity:    position.Quantity,
				Kind:        schema.OrderKindMarket,
				TimeInForce: schema.TimeInForceImmediateOrCancel,
			},
		})
	}
	return cancels, opens
}

// BuyAndHold opens one market position per instrument on the first fresh
// price seen, then holds for the rest of the run.
type BuyAndHold struct {
	ID       schema.StrategyID
	Notional decimal.Decimal

	opened map[schema.InstrumentKey]bool
}

func NewBuyAndHold(id schema.StrategyID, notional decimal.Decimal) *BuyAndHold {
	return &BuyAndHold{ID: id, Notional: notional, opened: make(map[schema.InstrumentKey]bool)}
}

func (s *BuyAndHold) GenerateOrders(state *engine.State) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	var opens []schema.OrderRequestOpen
	for key, instrument := range state.Instruments {
		if s.opened[key] || !instrument.DataFresh {
			continue
		}
		price := instrument.MarkPrice()
		quantity := notionalQuantity(s.Notional, price)
		if !quantity.IsPositive() {
			continue
		}
		s.opened[key] = true
		opens = append(opens, schema.OrderRequestOpen{
			Key: schema.OrderKey{
				Exchange:   key.Exchange,
				Instrument: key.Instrument,
				Strategy:   s.ID,
				ClientID:   schema.ClientOrderID(uuid.NewString()),
			},
			State: schema.RequestOpen{
				Side:        schema.SideBuy,
				Price:       price,
				Quantity:    quantity,
				Kind:        schema.OrderKindMarket,
				TimeInForce: schema.TimeInForceImmediateOrCancel,
			},
		})
	}
	return nil, opens
}

func notionalQuantity(notional, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(price)
}
