package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/schema"
)

// Balance is the holding of one asset on one exchange.
// Invariant: 0 <= Free <= Total.
type Balance struct {
	Total decimal.Decimal `json:"total"`
	Free  decimal.Decimal `json:"free"`
}

// Used is the part of the balance reserved by open orders or positions.
func (b Balance) Used() decimal.Decimal {
	return b.Total.Sub(b.Free)
}

func validateBalance(asset schema.AssetKey, b Balance) error {
	if b.Free.Sign() < 0 || b.Total.Sign() < 0 || b.Free.GreaterThan(b.Total) {
		return errs.New("engine", errs.CodeMalformedBalance,
			errs.WithMessage(fmt.Sprintf("balance for %s violates 0 <= free <= total: total=%s free=%s", asset, b.Total, b.Free)))
	}
	return nil
}

// AccountDelta is the portion of state changed by one account event, handed
// to the analytics consumer.
type AccountDelta struct {
	Balances []schema.BalanceSnapshot
	Exits    []PositionExit
}

// State is the authoritative portfolio snapshot for one replay run: the
// engine clock, balances per asset, and one InstrumentState per instrument.
// It is owned exclusively by its run and never shared.
type State struct {
	Exchange    schema.ExchangeID
	TimeEngine  time.Time
	Balances    map[schema.AssetKey]Balance
	Instruments map[schema.InstrumentKey]*InstrumentState
}

func NewState(exchange schema.ExchangeID, instruments ...schema.InstrumentKey) *State {
	state := &State{
		Exchange:    exchange,
		Balances:    make(map[schema.AssetKey]Balance),
		Instruments: make(map[schema.InstrumentKey]*InstrumentState, len(instruments)),
	}
	for _, key := range instruments {
		state.Instruments[key] = NewInstrumentState(key)
	}
	return state
}

// SeedBalance installs a starting balance before replay begins.
func (s *State) SeedBalance(asset schema.AssetKey, balance Balance) error {
	if err := validateBalance(asset, balance); err != nil {
		return err
	}
	s.Balances[asset] = balance
	return nil
}

// UpdateTime advances the engine clock. The clock never retreats; an earlier
// timestamp is a fatal input violation. Equal timestamps are allowed so that
// events sharing a timestamp replay in input order.
func (s *State) UpdateTime(t time.Time) error {
	if t.Before(s.TimeEngine) {
		return errs.New("engine", errs.CodeNonMonotonic,
			errs.WithMessage(fmt.Sprintf("event time %s precedes engine time %s", t.Format(time.RFC3339Nano), s.TimeEngine.Format(time.RFC3339Nano))),
			errs.WithRemediation("sort the input stream by timestamp before replay"))
	}
	s.TimeEngine = t
	return nil
}

// Instrument resolves the state for a known instrument.
func (s *State) Instrument(key schema.InstrumentKey) (*InstrumentState, error) {
	state, ok := s.Instruments[key]
	if !ok {
		return nil, errs.New("engine", errs.CodeUnknownReference,
			errs.WithMessage(fmt.Sprintf("unknown instrument %s", key)))
	}
	return state, nil
}

// ApplyMarket advances the clock and updates the instrument snapshot.
func (s *State) ApplyMarket(event schema.MarketEvent) error {
	if err := s.UpdateTime(event.TimeExchange); err != nil {
		return err
	}
	instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: event.Instrument})
	if err != nil {
		return err
	}
	instrument.ApplyMarket(event)
	return nil
}

// ApplyAccount applies one account event atomically, returning the delta
// for analytics. The engine clock is untouched: the caller advances it for
// input events, while synthesized fills may carry later exchange stamps
// without moving it. Stale order updates surface as CodeStaleOrder errors
// and leave state untouched.
func (s *State) ApplyAccount(event schema.AccountEvent) (AccountDelta, error) {
	switch kind := event.Kind.(type) {
	case schema.BalanceSnapshot:
		return s.applyBalance(event.Exchange, kind)
	case schema.AccountSnapshot:
		var delta AccountDelta
		for _, balance := range kind.Balances {
			part, err := s.applyBalance(event.Exchange, balance)
			if err != nil {
				return AccountDelta{}, err
			}
			delta.Balances = append(delta.Balances, part.Balances...)
		}
		return delta, nil
	case schema.OrderSnapshot:
		instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: kind.Key.Instrument})
		if err != nil {
			return AccountDelta{}, err
		}
		return AccountDelta{}, instrument.ApplyOrderSnapshot(kind, event.TimeExchange)
	case schema.OrderCancelled:
		instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: kind.Key.Instrument})
		if err != nil {
			return AccountDelta{}, err
		}
		if err := instrument.ApplyOrderCancelled(kind, event.TimeExchange); err != nil {
			return AccountDelta{}, err
		}
		s.releaseHold(instrument, kind.Key.ClientID)
		return AccountDelta{}, nil
	case schema.OrderExpired:
		instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: kind.Key.Instrument})
		if err != nil {
			return AccountDelta{}, err
		}
		if err := instrument.ApplyOrderExpired(kind, event.TimeExchange); err != nil {
			return AccountDelta{}, err
		}
		s.releaseHold(instrument, kind.Key.ClientID)
		return AccountDelta{}, nil
	case schema.OrderOpenFailed:
		instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: kind.Key.Instrument})
		if err != nil {
			return AccountDelta{}, err
		}
		if err := instrument.ApplyOrderOpenFailed(kind, event.TimeExchange); err != nil {
			return AccountDelta{}, err
		}
		s.releaseHold(instrument, kind.Key.ClientID)
		return AccountDelta{}, nil
	case schema.OwnTrade:
		instrument, err := s.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: kind.Key.Instrument})
		if err != nil {
			return AccountDelta{}, err
		}
		exit, exited, err := instrument.ApplyOwnTrade(kind, event.TimeExchange)
		if err != nil {
			return AccountDelta{}, err
		}
		s.settleHold(instrument, kind)
		var delta AccountDelta
		if exited {
			delta.Exits = append(delta.Exits, exit)
		}
		return delta, nil
	default:
		return AccountDelta{}, errs.New("engine", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unhandled account event kind %T", event.Kind)))
	}
}

func (s *State) applyBalance(exchange schema.ExchangeID, snapshot schema.BalanceSnapshot) (AccountDelta, error) {
	asset := schema.AssetKey{Exchange: exchange, Asset: snapshot.Asset}
	balance := Balance{Total: snapshot.Total, Free: snapshot.Free}
	if err := validateBalance(asset, balance); err != nil {
		return AccountDelta{}, err
	}
	s.Balances[asset] = balance
	return AccountDelta{Balances: []schema.BalanceSnapshot{snapshot}}, nil
}

// Equity values the portfolio in the given quote asset: the quote balance
// plus every position marked at current prices.
func (s *State) Equity(quote string) decimal.Decimal {
	equity := s.Balances[schema.AssetKey{Exchange: s.Exchange, Asset: quote}].Total
	for _, instrument := range s.Instruments {
		position := instrument.Position
		if position == nil {
			continue
		}
		mark := instrument.MarkPrice()
		if !mark.IsPositive() {
			mark = position.AvgEntryPrice
		}
		value := position.Quantity.Mul(mark)
		if position.Side == schema.SideSell {
			value = value.Neg()
		}
		equity = equity.Add(value)
	}
	return equity
}

// RecordOrderInFlight registers an approved, dispatched open request and
// reserves the free balance backing it: quote notional for buys, base
// quantity for sells. The reservation is capped at the free balance and
// returns there if the order ends without filling.
func (s *State) RecordOrderInFlight(req schema.OrderRequestOpen) error {
	instrument, err := s.Instrument(schema.InstrumentKey{Exchange: req.Key.Exchange, Instrument: req.Key.Instrument})
	if err != nil {
		return err
	}
	if err := instrument.RecordOrderInFlight(req); err != nil {
		return err
	}
	if order, ok := instrument.Order(req.Key.ClientID); ok {
		s.reserve(instrument, order)
	}
	return nil
}

func (s *State) holdAsset(order *Order) schema.AssetKey {
	if order.Side == schema.SideBuy {
		return schema.AssetKey{Exchange: order.Key.Exchange, Asset: schema.QuoteAsset(order.Key.Instrument)}
	}
	return schema.AssetKey{Exchange: order.Key.Exchange, Asset: schema.BaseAsset(order.Key.Instrument)}
}

func (s *State) reserve(instrument *InstrumentState, order *Order) {
	want := order.Quantity
	if order.Side == schema.SideBuy {
		price := order.Price
		if !price.IsPositive() {
			price = instrument.MarkPrice()
		}
		want = order.Quantity.Mul(price)
	}
	key := s.holdAsset(order)
	balance := s.Balances[key]
	hold := decimal.Min(want, balance.Free)
	if hold.Sign() <= 0 {
		return
	}
	balance.Free = balance.Free.Sub(hold)
	s.Balances[key] = balance
	order.Hold = hold
}

// releaseHold returns an unconsumed reservation to the free balance.
func (s *State) releaseHold(instrument *InstrumentState, cid schema.ClientOrderID) {
	order, ok := instrument.Order(cid)
	if !ok || order.Hold.Sign() <= 0 {
		return
	}
	key := s.holdAsset(order)
	balance := s.Balances[key]
	balance.Free = decimal.Min(balance.Free.Add(order.Hold), balance.Total)
	s.Balances[key] = balance
	order.Hold = decimal.Zero
}

// settleHold consumes the part of a reservation a fill spent. Any remainder
// of a fully filled order's hold is freed.
func (s *State) settleHold(instrument *InstrumentState, trade schema.OwnTrade) {
	order, ok := instrument.Order(trade.Key.ClientID)
	if !ok || order.Hold.Sign() <= 0 {
		return
	}
	consumed := trade.Quantity
	if order.Side == schema.SideBuy {
		consumed = trade.Price.Mul(trade.Quantity).Add(trade.Fees)
	}
	order.Hold = decimal.Max(decimal.Zero, order.Hold.Sub(consumed))
	if order.State.Terminal() {
		s.releaseHold(instrument, trade.Key.ClientID)
	}
}

// RecordCancelInFlight marks an order as awaiting cancellation.
func (s *State) RecordCancelInFlight(req schema.OrderRequestCancel) error {
	instrument, err := s.Instrument(schema.InstrumentKey{Exchange: req.Key.Exchange, Instrument: req.Key.Instrument})
	if err != nil {
		return err
	}
	order, err := instrument.order(req.Key.ClientID)
	if err != nil {
		return err
	}
	return order.ApplyCancelInFlight()
}
