package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/observability"
	"github.com/coachpo/replay/internal/risk"
	"github.com/coachpo/replay/internal/schema"
	"github.com/coachpo/replay/internal/statistic"
	"github.com/coachpo/replay/internal/strategy"
)

// Engine replays one event stream against one isolated engine state. Each
// run is single-threaded and single-pass: every event is fully applied
// before the next one is considered.
type Engine struct {
	state     *engine.State
	strategy  strategy.Strategy
	risk      risk.Manager
	execution *Execution

	riskFreeReturn decimal.Decimal
	closeOnFinish  bool
	strategyID     schema.StrategyID

	summary *statistic.TradingSummaryGenerator
	metrics *observability.RuntimeMetrics

	staleUpdates   int
	refusedOpens   int
	refusedCancels int
}

// EngineOption configures optional engine behaviour.
type EngineOption func(*Engine)

// WithRiskManager overrides the default approve-all risk gate.
func WithRiskManager(manager risk.Manager) EngineOption {
	return func(e *Engine) { e.risk = manager }
}

// WithExecution overrides the execution models used to synthesize fills.
func WithExecution(execution *Execution) EngineOption {
	return func(e *Engine) { e.execution = execution }
}

// WithRiskFreeReturn sets the risk-free rate used by the summary ratios.
func WithRiskFreeReturn(rate decimal.Decimal) EngineOption {
	return func(e *Engine) { e.riskFreeReturn = rate }
}

// WithCloseOnFinish flattens open positions after the stream is exhausted so
// the summary reflects realised PnL only.
func WithCloseOnFinish(strategyID schema.StrategyID) EngineOption {
	return func(e *Engine) {
		e.closeOnFinish = true
		e.strategyID = strategyID
	}
}

// WithRuntimeMetrics attaches an in-memory metrics accumulator to the run.
func WithRuntimeMetrics(metrics *observability.RuntimeMetrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// NewEngine wires a replay over the given state and strategy.
func NewEngine(state *engine.State, strat strategy.Strategy, opts ...EngineOption) *Engine {
	e := &Engine{
		state:     state,
		strategy:  strat,
		risk:      risk.DefaultManager{},
		execution: NewExecution(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metrics returns the attached runtime metrics accumulator, if any.
func (e *Engine) Metrics() *observability.RuntimeMetrics { return e.metrics }

// RiskFreeReturn reports the rate the summary ratios are computed against.
func (e *Engine) RiskFreeReturn() decimal.Decimal { return e.riskFreeReturn }

// StaleUpdates reports how many events referenced already-terminal or
// unknown orders.
func (e *Engine) StaleUpdates() int { return e.staleUpdates }

// Run consumes the feeder until io.EOF. Fatal input violations abort the
// run immediately; no partial summary is produced by the caller in that
// case. Cancellation is honoured before the first event only: a run that
// has started always replays to the end of its stream.
func (e *Engine) Run(ctx context.Context, feeder DataFeeder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		event, err := feeder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errs.New("backtest", errs.CodeInvalid,
				errs.WithMessage("event source failed"), errs.WithCause(err))
		}
		if err := e.process(event); err != nil {
			return err
		}
	}
	if e.closeOnFinish {
		if err := e.flattenPositions(); err != nil {
			return err
		}
	}
	observability.Log().Info("replay finished",
		observability.Field{Key: "time_engine", Value: e.state.TimeEngine},
		observability.Field{Key: "stale_updates", Value: e.staleUpdates},
		observability.Field{Key: "refused_opens", Value: e.refusedOpens},
		observability.Field{Key: "refused_cancels", Value: e.refusedCancels})
	return nil
}

// Summary renders the current trading summary. It may be called mid-run for
// progress reporting and again at the end.
func (e *Engine) Summary(interval statistic.TimeInterval) statistic.TradingSummary {
	e.ensureSummary(e.state.TimeEngine)
	return e.summary.Generate(interval)
}

func (e *Engine) ensureSummary(start time.Time) {
	if e.summary != nil {
		return
	}
	e.summary = statistic.NewTradingSummaryGenerator(e.riskFreeReturn, start)
	for key, balance := range e.state.Balances {
		e.summary.UpdateFromBalance(key, balance, start)
	}
}

func (e *Engine) process(event Event) error {
	e.ensureSummary(event.Time())
	switch {
	case event.Market != nil:
		return e.processMarket(*event.Market)
	case event.Account != nil:
		// the monotonic clock is gated on input events only; synthesized
		// fills may carry later stamps without advancing it
		if err := e.state.UpdateTime(event.Account.TimeExchange); err != nil {
			return err
		}
		return e.applyAccount(*event.Account)
	default:
		return errs.New("backtest", errs.CodeInvalid, errs.WithMessage("empty replay event"))
	}
}

func (e *Engine) processMarket(event schema.MarketEvent) error {
	if err := e.state.ApplyMarket(event); err != nil {
		return err
	}
	e.summary.UpdateTimeNow(e.state.TimeEngine)
	observability.Telemetry().IncCounter("replay_market_events_total", 1, map[string]string{"instrument": event.Instrument})
	if e.metrics != nil {
		e.metrics.IncrementEventsReplayed(event.Instrument)
	}

	// a fresh price may cross resting limit orders before the strategy acts
	if instrument, err := e.state.Instrument(schema.InstrumentKey{Exchange: event.Exchange, Instrument: event.Instrument}); err == nil {
		for _, order := range instrument.OpenOrders() {
			for _, synthesized := range e.execution.RestingFillEvents(e.state, instrument, order) {
				if err := e.applyAccount(synthesized); err != nil {
					return err
				}
			}
		}
	}

	cancels, opens := e.strategy.GenerateOrders(e.state)
	return e.dispatch(cancels, opens)
}

// dispatch passes requests through the risk gate and simulates execution of
// approved ones. All resulting deltas apply before the next event.
func (e *Engine) dispatch(cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) error {
	if len(cancels) == 0 && len(opens) == 0 {
		return nil
	}
	decision := e.risk.Check(e.state, cancels, opens)
	e.recordRefusals(decision)

	for _, cancel := range decision.ApprovedCancels {
		if err := e.state.RecordCancelInFlight(cancel); err != nil {
			if errs.Is(err, errs.CodeStaleOrder) {
				e.noteStale(err)
				continue
			}
			return err
		}
		confirmation := schema.AccountEvent{
			TimeExchange: e.state.TimeEngine,
			Exchange:     cancel.Key.Exchange,
			Kind:         schema.OrderCancelled{Key: cancel.Key, OrderID: cancel.OrderID},
		}
		if err := e.applyAccount(confirmation); err != nil {
			return err
		}
	}

	for _, open := range decision.ApprovedOpens {
		if err := e.state.RecordOrderInFlight(open); err != nil {
			observability.Log().Error("order request dropped",
				observability.Field{Key: "cid", Value: string(open.Key.ClientID)},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		for _, synthesized := range e.execution.OpenEvents(e.state, open) {
			if err := e.applyAccount(synthesized); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) recordRefusals(decision risk.Decision) {
	e.refusedOpens += len(decision.RefusedOpens)
	e.refusedCancels += len(decision.RefusedCancels)
	for _, refused := range decision.RefusedOpens {
		observability.Log().Info("risk refused open",
			observability.Field{Key: "cid", Value: string(refused.Request.Key.ClientID)},
			observability.Field{Key: "reason", Value: refused.Reason})
		observability.Telemetry().IncCounter("replay_risk_refusals_total", 1, map[string]string{"kind": "open"})
	}
	for _, refused := range decision.RefusedCancels {
		observability.Log().Info("risk refused cancel",
			observability.Field{Key: "cid", Value: string(refused.Request.Key.ClientID)},
			observability.Field{Key: "reason", Value: refused.Reason})
		observability.Telemetry().IncCounter("replay_risk_refusals_total", 1, map[string]string{"kind": "cancel"})
	}
}

func (e *Engine) applyAccount(event schema.AccountEvent) error {
	delta, err := e.state.ApplyAccount(event)
	if err != nil {
		if errs.Is(err, errs.CodeStaleOrder) {
			e.noteStale(err)
			return nil
		}
		return err
	}
	e.summary.UpdateTimeNow(e.state.TimeEngine)
	for _, balance := range delta.Balances {
		key := schema.AssetKey{Exchange: event.Exchange, Asset: balance.Asset}
		e.summary.UpdateFromBalance(key, engine.Balance{Total: balance.Total, Free: balance.Free}, e.state.TimeEngine)
	}
	for _, exit := range delta.Exits {
		e.summary.UpdateFromPositionExit(exit)
		observability.Telemetry().IncCounter("replay_position_exits_total", 1, map[string]string{"instrument": exit.Instrument.Instrument})
	}
	return nil
}

func (e *Engine) noteStale(err error) {
	e.staleUpdates++
	observability.Log().Debug("stale order update ignored",
		observability.Field{Key: "error", Value: err.Error()})
	if e.metrics != nil {
		e.metrics.IncrementStaleUpdates()
	}
}

// flattenPositions closes every open position through the normal risk and
// execution path so the final summary holds realised PnL only.
func (e *Engine) flattenPositions() error {
	id := e.strategyID
	if id == "" {
		id = schema.StrategyIDUnknown
	}
	cancels, opens := strategy.CloseOpenPositions(e.state, id)
	if err := e.dispatch(cancels, opens); err != nil {
		return fmt.Errorf("close open positions: %w", err)
	}
	return nil
}
