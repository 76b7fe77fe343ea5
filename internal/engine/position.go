package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/schema"
)

// Position is the net exposure held on one instrument. Quantity is always
// positive; Side carries the direction.
type Position struct {
	Instrument     schema.InstrumentKey
	Side           schema.Side
	Quantity       decimal.Decimal
	QuantityAbsMax decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	RealisedPnL    decimal.Decimal
	FeesPaid       decimal.Decimal
	TimeEnter      time.Time
}

// PositionExit is emitted when a position's quantity reaches zero. It is the
// analytics consumer's record of the round trip.
type PositionExit struct {
	Instrument     schema.InstrumentKey `json:"instrument"`
	Side           schema.Side          `json:"side"`
	QuantityClosed decimal.Decimal      `json:"quantity_closed"`
	AvgEntryPrice  decimal.Decimal      `json:"avg_entry_price"`
	RealisedPnL    decimal.Decimal      `json:"realised_pnl"`
	Fees           decimal.Decimal      `json:"fees"`
	TimeEnter      time.Time            `json:"time_enter"`
	TimeExit       time.Time            `json:"time_exit"`
}

// Return is the realised PnL relative to the capital deployed at peak size.
func (e PositionExit) Return() decimal.Decimal {
	deployed := e.AvgEntryPrice.Mul(e.QuantityClosed)
	if deployed.Sign() <= 0 {
		return decimal.Zero
	}
	return e.RealisedPnL.Div(deployed)
}

func openPosition(instrument schema.InstrumentKey, trade schema.OwnTrade, timeEnter time.Time) *Position {
	return &Position{
		Instrument:     instrument,
		Side:           trade.Side,
		Quantity:       trade.Quantity,
		QuantityAbsMax: trade.Quantity,
		AvgEntryPrice:  trade.Price,
		RealisedPnL:    trade.Fees.Neg(),
		FeesPaid:       trade.Fees,
		TimeEnter:      timeEnter,
	}
}

func (p *Position) direction() decimal.Decimal {
	if p.Side == schema.SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (p *Position) increase(trade schema.OwnTrade) {
	total := p.Quantity.Add(trade.Quantity)
	weighted := p.AvgEntryPrice.Mul(p.Quantity).Add(trade.Price.Mul(trade.Quantity))
	p.AvgEntryPrice = weighted.Div(total)
	p.Quantity = total
	if total.GreaterThan(p.QuantityAbsMax) {
		p.QuantityAbsMax = total
	}
	p.RealisedPnL = p.RealisedPnL.Sub(trade.Fees)
	p.FeesPaid = p.FeesPaid.Add(trade.Fees)
}

// reduce closes up to trade.Quantity of the position, realising PnL on the
// closed quantity. It reports the closed quantity so a flip can reopen with
// the remainder.
func (p *Position) reduce(trade schema.OwnTrade) (closed decimal.Decimal) {
	closed = decimal.Min(p.Quantity, trade.Quantity)
	pnl := trade.Price.Sub(p.AvgEntryPrice).Mul(closed).Mul(p.direction())
	p.RealisedPnL = p.RealisedPnL.Add(pnl).Sub(trade.Fees)
	p.FeesPaid = p.FeesPaid.Add(trade.Fees)
	p.Quantity = p.Quantity.Sub(closed)
	return closed
}

func (p *Position) exit(timeExit time.Time) PositionExit {
	return PositionExit{
		Instrument:     p.Instrument,
		Side:           p.Side,
		QuantityClosed: p.QuantityAbsMax,
		AvgEntryPrice:  p.AvgEntryPrice,
		RealisedPnL:    p.RealisedPnL,
		Fees:           p.FeesPaid,
		TimeEnter:      p.TimeEnter,
		TimeExit:       timeExit,
	}
}
