// Package risk gates strategy order requests before they reach execution.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/schema"
)

// RefusedCancel carries a refused cancel request with the reason it was
// refused. The original request is never discarded.
type RefusedCancel struct {
	Request schema.OrderRequestCancel
	Reason  string
}

// RefusedOpen carries a refused open request with the reason.
type RefusedOpen struct {
	Request schema.OrderRequestOpen
	Reason  string
}

// Decision partitions the input requests. Every input request appears in
// exactly one of the four fields.
type Decision struct {
	ApprovedCancels []schema.OrderRequestCancel
	ApprovedOpens   []schema.OrderRequestOpen
	RefusedCancels  []RefusedCancel
	RefusedOpens    []RefusedOpen
}

// Manager decides which requests may proceed. Check is synchronous, reads
// state only, and must never mutate it.
type Manager interface {
	Check(state *engine.State, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision
}

// DefaultManager approves every request unconditionally. It is the baseline
// policy for backtests.
type DefaultManager struct{}

func (DefaultManager) Check(_ *engine.State, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision {
	return Decision{ApprovedCancels: cancels, ApprovedOpens: opens}
}

// Limits configures the thresholds enforced by ThresholdManager. A zero
// value disables the corresponding check.
type Limits struct {
	// MaxLeverage caps gross position notional relative to equity.
	MaxLeverage decimal.Decimal `yaml:"maxLeverage"`

	// MaxPositionNotional caps the value of a single order, in the
	// instrument's quote asset.
	MaxPositionNotional decimal.Decimal `yaml:"maxPositionNotional"`

	// MaxExposurePercent caps a single order's notional as a fraction of
	// current equity (0.25 means 25%).
	MaxExposurePercent decimal.Decimal `yaml:"maxExposurePercent"`

	// MaxPositionQuantity caps the quantity of a single order.
	MaxPositionQuantity decimal.Decimal `yaml:"maxPositionQuantity"`

	// OrderThrottle is the maximum rate of approved opens per second of
	// engine time. Zero disables throttling. The throttle is always
	// global, never overridden per instrument.
	OrderThrottle float64 `yaml:"orderThrottle"`

	// Instruments overrides thresholds for specific instrument symbols.
	// A zero field in an override falls back to the global limit.
	Instruments map[string]Limits `yaml:"instruments"`
}

// forInstrument resolves the effective limits for one instrument, merging
// any per-instrument override over the global thresholds field by field.
func (l Limits) forInstrument(symbol string) Limits {
	override, ok := l.Instruments[symbol]
	if !ok {
		return l
	}
	merged := l
	if !override.MaxLeverage.IsZero() {
		merged.MaxLeverage = override.MaxLeverage
	}
	if !override.MaxPositionNotional.IsZero() {
		merged.MaxPositionNotional = override.MaxPositionNotional
	}
	if !override.MaxExposurePercent.IsZero() {
		merged.MaxExposurePercent = override.MaxExposurePercent
	}
	if !override.MaxPositionQuantity.IsZero() {
		merged.MaxPositionQuantity = override.MaxPositionQuantity
	}
	return merged
}

// ThresholdManager refuses opens that would violate a configured limit.
// Cancels always pass: reducing exposure is never blocked.
type ThresholdManager struct {
	limits  Limits
	limiter *rate.Limiter
}

func NewThresholdManager(limits Limits) *ThresholdManager {
	var limiter *rate.Limiter
	if limits.OrderThrottle > 0 {
		limiter = rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1)
	}
	return &ThresholdManager{limits: limits, limiter: limiter}
}

func (m *ThresholdManager) Check(state *engine.State, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision {
	decision := Decision{ApprovedCancels: cancels}
	for _, open := range opens {
		if reason, refused := m.refuse(state, open); refused {
			decision.RefusedOpens = append(decision.RefusedOpens, RefusedOpen{Request: open, Reason: reason})
			continue
		}
		decision.ApprovedOpens = append(decision.ApprovedOpens, open)
	}
	return decision
}

func (m *ThresholdManager) refuse(state *engine.State, open schema.OrderRequestOpen) (string, bool) {
	limits := m.limits.forInstrument(open.Key.Instrument)

	quantity := open.State.Quantity
	if limits.MaxPositionQuantity.IsPositive() && quantity.GreaterThan(limits.MaxPositionQuantity) {
		return fmt.Sprintf("quantity %s exceeds max position quantity %s", quantity, limits.MaxPositionQuantity), true
	}

	price := open.State.Price
	if !price.IsPositive() {
		if instrument, err := state.Instrument(schema.InstrumentKey{Exchange: open.Key.Exchange, Instrument: open.Key.Instrument}); err == nil {
			price = instrument.MarkPrice()
		}
	}
	notional := price.Mul(quantity)
	if limits.MaxPositionNotional.IsPositive() && notional.GreaterThan(limits.MaxPositionNotional) {
		return fmt.Sprintf("notional %s exceeds max position notional %s", notional, limits.MaxPositionNotional), true
	}

	if limits.MaxExposurePercent.IsPositive() || limits.MaxLeverage.IsPositive() {
		equity := state.Equity(schema.QuoteAsset(open.Key.Instrument))
		if equity.IsPositive() {
			if limits.MaxExposurePercent.IsPositive() {
				exposure := notional.Div(equity)
				if exposure.GreaterThan(limits.MaxExposurePercent) {
					return fmt.Sprintf("exposure %s of equity exceeds max %s", exposure, limits.MaxExposurePercent), true
				}
			}
			if limits.MaxLeverage.IsPositive() {
				leverage := grossNotional(state).Add(notional).Div(equity)
				if leverage.GreaterThan(limits.MaxLeverage) {
					return fmt.Sprintf("leverage %s exceeds max %s", leverage, limits.MaxLeverage), true
				}
			}
		}
	}

	if m.limiter != nil && !m.limiter.AllowN(state.TimeEngine, 1) {
		return fmt.Sprintf("order throttle of %.2f/s exceeded", m.limits.OrderThrottle), true
	}
	return "", false
}

// grossNotional values every open position at its mark price, long and short
// alike counting toward leverage.
func grossNotional(state *engine.State) decimal.Decimal {
	total := decimal.Zero
	for _, instrument := range state.Instruments {
		position := instrument.Position
		if position == nil {
			continue
		}
		mark := instrument.MarkPrice()
		if !mark.IsPositive() {
			mark = position.AvgEntryPrice
		}
		total = total.Add(position.Quantity.Mul(mark))
	}
	return total
}
