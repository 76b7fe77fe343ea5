package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/schema"
)

// LatencyModel returns the artificial delay between dispatching an order
// request and the exchange acknowledging it.
type LatencyModel interface {
	Delay(req schema.OrderRequestOpen) time.Duration
}

// ConstantLatency introduces a fixed latency for every request.
type ConstantLatency struct {
	Value time.Duration
}

func (c ConstantLatency) Delay(schema.OrderRequestOpen) time.Duration {
	if c.Value < 0 {
		return 0
	}
	return c.Value
}

// SlippageModel adjusts execution prices for market impact. The returned
// value is added to the fill price for buys and subtracted for sells.
type SlippageModel interface {
	Adjust(req schema.OrderRequestOpen, referencePrice decimal.Decimal) decimal.Decimal
}

// BasisPointSlippage shifts the execution price by a fixed BPS amount.
type BasisPointSlippage struct {
	BPS decimal.Decimal
}

func (b BasisPointSlippage) Adjust(req schema.OrderRequestOpen, referencePrice decimal.Decimal) decimal.Decimal {
	if b.BPS.IsZero() || req.State.Kind != schema.OrderKindMarket || !referencePrice.IsPositive() {
		return decimal.Zero
	}
	return referencePrice.Mul(b.BPS.Div(decimal.NewFromInt(10_000)))
}

// FeeModel evaluates trading fees for executed fills, in the quote asset.
type FeeModel interface {
	Fee(req schema.OrderRequestOpen, fillQuantity, fillPrice decimal.Decimal) decimal.Decimal
}

// ProportionalFee applies maker/taker style percentage fees.
type ProportionalFee struct {
	Rate decimal.Decimal
}

func (p ProportionalFee) Fee(_ schema.OrderRequestOpen, fillQuantity, fillPrice decimal.Decimal) decimal.Decimal {
	if fillQuantity.LessThanOrEqual(decimal.Zero) || fillPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if p.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return fillQuantity.Mul(fillPrice).Mul(p.Rate)
}
