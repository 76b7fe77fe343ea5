package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/schema"
)

// Execution synthesizes exchange behaviour for approved order requests:
// acknowledgements, fills against current market state, fee charges, and
// the matching of resting limit orders as new prices arrive.
type Execution struct {
	latency  LatencyModel
	slippage SlippageModel
	fees     FeeModel
}

// ExecutionOption configures optional execution behaviour.
type ExecutionOption func(*Execution)

func WithLatencyModel(model LatencyModel) ExecutionOption {
	return func(x *Execution) { x.latency = model }
}

func WithSlippageModel(model SlippageModel) ExecutionOption {
	return func(x *Execution) { x.slippage = model }
}

func WithFeeModel(model FeeModel) ExecutionOption {
	return func(x *Execution) { x.fees = model }
}

func NewExecution(opts ...ExecutionOption) *Execution {
	execution := &Execution{
		latency:  ConstantLatency{},
		slippage: BasisPointSlippage{},
		fees:     ProportionalFee{},
	}
	for _, opt := range opts {
		opt(execution)
	}
	return execution
}

// OpenEvents simulates dispatching an approved open request, returning the
// account events the exchange would produce.
func (x *Execution) OpenEvents(state *engine.State, req schema.OrderRequestOpen) []schema.AccountEvent {
	at := state.TimeEngine.Add(x.latency.Delay(req))
	instrument, err := state.Instrument(schema.InstrumentKey{Exchange: req.Key.Exchange, Instrument: req.Key.Instrument})
	if err != nil {
		return []schema.AccountEvent{x.openFailed(req, at, "unknown instrument")}
	}

	fillPrice, fillable := x.fillPrice(req, instrument)
	if req.State.Kind == schema.OrderKindMarket && !fillable {
		return []schema.AccountEvent{x.openFailed(req, at, "no market price available")}
	}

	events := []schema.AccountEvent{{
		TimeExchange: at,
		Exchange:     req.Key.Exchange,
		Kind:         schema.OrderSnapshot{Key: req.Key, OrderID: schema.OrderID(uuid.NewString())},
	}}

	if !fillable {
		switch req.State.TimeInForce {
		case schema.TimeInForceImmediateOrCancel, schema.TimeInForceFillOrKill:
			events = append(events, schema.AccountEvent{
				TimeExchange: at,
				Exchange:     req.Key.Exchange,
				Kind:         schema.OrderExpired{Key: req.Key},
			})
		}
		// otherwise the order rests on the book until a price crosses it
		return events
	}

	hold := decimal.Zero
	if order, ok := instrument.Order(req.Key.ClientID); ok {
		hold = order.Hold
	}
	fill, ok := x.fill(state, req, fillPrice, req.State.Quantity, hold, at)
	if !ok {
		return []schema.AccountEvent{x.openFailed(req, at, "insufficient balance")}
	}
	return append(events, fill...)
}

// RestingFillEvents fills one resting limit order if the market has crossed
// its price. Returns nil while the order stays on the book; an unsettleable
// fill turns into a cancel so balances never go negative. The caller applies
// each order's events before asking about the next one.
func (x *Execution) RestingFillEvents(state *engine.State, instrument *engine.InstrumentState, order *engine.Order) []schema.AccountEvent {
	if order.State != engine.StateOpen || order.Kind != schema.OrderKindLimit {
		return nil
	}
	if !crossed(order.Side, order.Price, instrument) {
		return nil
	}
	req := schema.OrderRequestOpen{Key: order.Key, State: schema.RequestOpen{
		Side:        order.Side,
		Price:       order.Price,
		Quantity:    order.Quantity,
		Kind:        order.Kind,
		TimeInForce: order.TimeInForce,
	}}
	fill, ok := x.fill(state, req, order.Price, order.RemainingQuantity(), order.Hold, state.TimeEngine)
	if !ok {
		return []schema.AccountEvent{{
			TimeExchange: state.TimeEngine,
			Exchange:     order.Key.Exchange,
			Kind:         schema.OrderCancelled{Key: order.Key, OrderID: order.OrderID},
		}}
	}
	return fill
}

func (x *Execution) openFailed(req schema.OrderRequestOpen, at time.Time, reason string) schema.AccountEvent {
	return schema.AccountEvent{
		TimeExchange: at,
		Exchange:     req.Key.Exchange,
		Kind:         schema.OrderOpenFailed{Key: req.Key, Reason: reason},
	}
}

// fillPrice resolves the execution price for an incoming request. Market
// orders take the opposing side of the book plus slippage; limit orders fill
// at their price when the market crosses it.
func (x *Execution) fillPrice(req schema.OrderRequestOpen, instrument *engine.InstrumentState) (decimal.Decimal, bool) {
	reference := opposingPrice(req.State.Side, instrument)
	if req.State.Kind == schema.OrderKindMarket {
		if !reference.IsPositive() {
			return decimal.Decimal{}, false
		}
		slip := x.slippage.Adjust(req, reference)
		if req.State.Side == schema.SideBuy {
			return reference.Add(slip), true
		}
		return reference.Sub(slip), true
	}
	if crossed(req.State.Side, req.State.Price, instrument) {
		return req.State.Price, true
	}
	return decimal.Decimal{}, false
}

// opposingPrice is the price a taker trades at: the ask for buys, the bid
// for sells, falling back to the last traded price.
func opposingPrice(side schema.Side, instrument *engine.InstrumentState) decimal.Decimal {
	if side == schema.SideBuy {
		if instrument.BestBook.AskPrice.IsPositive() {
			return instrument.BestBook.AskPrice
		}
	} else if instrument.BestBook.BidPrice.IsPositive() {
		return instrument.BestBook.BidPrice
	}
	return instrument.MarkPrice()
}

func crossed(side schema.Side, limit decimal.Decimal, instrument *engine.InstrumentState) bool {
	market := opposingPrice(side, instrument)
	if !market.IsPositive() || !limit.IsPositive() {
		return false
	}
	if side == schema.SideBuy {
		return limit.GreaterThanOrEqual(market)
	}
	return limit.LessThanOrEqual(market)
}

// fill produces the trade and balance events of one execution. The order's
// reserved hold counts toward what the account can settle; fills the full
// balance cannot cover are refused so balances never go negative.
func (x *Execution) fill(state *engine.State, req schema.OrderRequestOpen, price, quantity, hold decimal.Decimal, at time.Time) ([]schema.AccountEvent, bool) {
	base := schema.BaseAsset(req.Key.Instrument)
	quote := schema.QuoteAsset(req.Key.Instrument)
	baseKey := schema.AssetKey{Exchange: req.Key.Exchange, Asset: base}
	quoteKey := schema.AssetKey{Exchange: req.Key.Exchange, Asset: quote}
	baseBalance := state.Balances[baseKey]
	quoteBalance := state.Balances[quoteKey]

	notional := price.Mul(quantity)
	fee := x.fees.Fee(req, quantity, price)

	if req.State.Side == schema.SideBuy {
		spend := notional.Add(fee)
		available := quoteBalance.Free.Add(hold)
		if available.LessThan(spend) {
			return nil, false
		}
		quoteBalance.Total = quoteBalance.Total.Sub(spend)
		quoteBalance.Free = available.Sub(spend)
		baseBalance.Total = baseBalance.Total.Add(quantity)
		baseBalance.Free = baseBalance.Free.Add(quantity)
	} else {
		available := baseBalance.Free.Add(hold)
		if available.LessThan(quantity) {
			return nil, false
		}
		baseBalance.Total = baseBalance.Total.Sub(quantity)
		baseBalance.Free = available.Sub(quantity)
		proceeds := notional.Sub(fee)
		quoteBalance.Total = quoteBalance.Total.Add(proceeds)
		quoteBalance.Free = quoteBalance.Free.Add(proceeds)
	}

	return []schema.AccountEvent{
		{
			TimeExchange: at,
			Exchange:     req.Key.Exchange,
			Kind: schema.OwnTrade{
				Key:      req.Key,
				TradeID:  uuid.NewString(),
				Side:     req.State.Side,
				Price:    price,
				Quantity: quantity,
				Fees:     fee,
				FeeAsset: quote,
			},
		},
		{
			TimeExchange: at,
			Exchange:     req.Key.Exchange,
			Kind:         schema.BalanceSnapshot{Asset: base, Total: baseBalance.Total, Free: baseBalance.Free},
		},
		{
			TimeExchange: at,
			Exchange:     req.Key.Exchange,
			Kind:         schema.BalanceSnapshot{Asset: quote, Total: quoteBalance.Total, Free: quoteBalance.Free},
		},
	}, true
}
