package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/schema"
)

// InstrumentState owns one instrument's position, open orders, and latest
// market snapshot. It is mutated only by applying events and is never shared
// across instruments.
type InstrumentState struct {
	Instrument schema.InstrumentKey
	Orders     map[schema.ClientOrderID]*Order
	Position   *Position

	LastTradePrice decimal.Decimal
	BestBook       schema.OrderBookL1
	LastCandle     schema.Candle
	TimeMarket     time.Time
	DataFresh      bool
}

func NewInstrumentState(instrument schema.InstrumentKey) *InstrumentState {
	return &InstrumentState{
		Instrument: instrument,
		Orders:     make(map[schema.ClientOrderID]*Order),
	}
}

// ApplyMarket folds a market event into the snapshot. Disconnects reset the
// freshness flag and touch nothing else.
func (s *InstrumentState) ApplyMarket(event schema.MarketEvent) {
	switch kind := event.Kind.(type) {
	case schema.Trade:
		s.LastTradePrice = kind.Price
	case schema.Candle:
		s.LastCandle = kind
	case schema.OrderBookL1:
		s.BestBook = kind
	case schema.Liquidation:
		// informational only
	case schema.Disconnect:
		s.DataFresh = false
		return
	}
	s.TimeMarket = event.TimeExchange
	s.DataFresh = true
}

// MarkPrice is the best available estimate of current value: L1 mid when the
// book has been seen, otherwise last trade, otherwise last candle close.
func (s *InstrumentState) MarkPrice() decimal.Decimal {
	if mid := s.BestBook.Mid(); mid.IsPositive() {
		return mid
	}
	if s.LastTradePrice.IsPositive() {
		return s.LastTradePrice
	}
	return s.LastCandle.Close
}

func (s *InstrumentState) order(cid schema.ClientOrderID) (*Order, error) {
	order, ok := s.Orders[cid]
	if !ok {
		return nil, errs.New("engine", errs.CodeStaleOrder,
			errs.WithMessage(fmt.Sprintf("event references unknown order %s on %s", cid, s.Instrument.Instrument)))
	}
	return order, nil
}

// Order returns the tracked order for a client id, if any.
func (s *InstrumentState) Order(cid schema.ClientOrderID) (*Order, bool) {
	order, ok := s.Orders[cid]
	return order, ok
}

// RecordOrderInFlight registers a freshly dispatched open request.
func (s *InstrumentState) RecordOrderInFlight(req schema.OrderRequestOpen) error {
	if _, exists := s.Orders[req.Key.ClientID]; exists {
		return errs.New("engine", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("duplicate client order id %s", req.Key.ClientID)))
	}
	s.Orders[req.Key.ClientID] = NewOrder(req)
	return nil
}

// ApplyOrderSnapshot routes an exchange acknowledgement to its order.
func (s *InstrumentState) ApplyOrderSnapshot(snapshot schema.OrderSnapshot, timeExchange time.Time) error {
	order, err := s.order(snapshot.Key.ClientID)
	if err != nil {
		return err
	}
	return order.ApplyOpen(snapshot.OrderID, timeExchange)
}

// ApplyOrderCancelled routes a cancel confirmation to its order.
func (s *InstrumentState) ApplyOrderCancelled(cancelled schema.OrderCancelled, timeExchange time.Time) error {
	order, err := s.order(cancelled.Key.ClientID)
	if err != nil {
		return err
	}
	return order.ApplyCancelled(timeExchange)
}

// ApplyOrderExpired routes a time-in-force expiry to its order.
func (s *InstrumentState) ApplyOrderExpired(expired schema.OrderExpired, timeExchange time.Time) error {
	order, err := s.order(expired.Key.ClientID)
	if err != nil {
		return err
	}
	return order.ApplyExpired(timeExchange)
}

// ApplyOrderOpenFailed routes an open rejection to its order.
func (s *InstrumentState) ApplyOrderOpenFailed(failed schema.OrderOpenFailed, timeExchange time.Time) error {
	order, err := s.order(failed.Key.ClientID)
	if err != nil {
		return err
	}
	return order.ApplyOpenFailed(timeExchange)
}

// ApplyOwnTrade applies a fill to its order and to the position. A closed
// round trip is returned as a PositionExit.
func (s *InstrumentState) ApplyOwnTrade(trade schema.OwnTrade, timeExchange time.Time) (PositionExit, bool, error) {
	order, err := s.order(trade.Key.ClientID)
	if err != nil {
		return PositionExit{}, false, err
	}
	if err := order.ApplyFill(trade.Quantity, timeExchange); err != nil {
		return PositionExit{}, false, err
	}
	exit, exited := s.applyTradeToPosition(trade, timeExchange)
	return exit, exited, nil
}

func (s *InstrumentState) applyTradeToPosition(trade schema.OwnTrade, timeExchange time.Time) (PositionExit, bool) {
	if s.Position == nil {
		s.Position = openPosition(s.Instrument, trade, timeExchange)
		return PositionExit{}, false
	}
	if s.Position.Side == trade.Side {
		s.Position.increase(trade)
		return PositionExit{}, false
	}
	closed := s.Position.reduce(trade)
	if s.Position.Quantity.Sign() > 0 {
		return PositionExit{}, false
	}
	exit := s.Position.exit(timeExchange)
	s.Position = nil
	if remainder := trade.Quantity.Sub(closed); remainder.Sign() > 0 {
		flip := trade
		flip.Quantity = remainder
		flip.Fees = decimal.Zero
		s.Position = openPosition(s.Instrument, flip, timeExchange)
	}
	return exit, true
}

// OpenOrders returns the orders still working on the book.
func (s *InstrumentState) OpenOrders() []*Order {
	open := make([]*Order, 0, len(s.Orders))
	for _, order := range s.Orders {
		if !order.State.Terminal() {
			open = append(open, order)
		}
	}
	return open
}
