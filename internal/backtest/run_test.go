package backtest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	enginestate "github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/observability"
	"github.com/coachpo/replay/internal/schema"
	"github.com/coachpo/replay/internal/statistic"
	"github.com/coachpo/replay/internal/strategy"
)

func roundTripSpec(t *testing.T, id string, quantity int64, events []Event) RunSpec {
	t.Helper()
	return RunSpec{
		ID:       id,
		Interval: statistic.Daily{},
		Build: func() (*Engine, DataFeeder, error) {
			state := enginestate.NewState("sim", btcUsdt)
			err := state.SeedBalance(schema.AssetKey{Exchange: "sim", Asset: "USDT"}, enginestate.Balance{
				Total: decimal.NewFromInt(100000),
				Free:  decimal.NewFromInt(100000),
			})
			if err != nil {
				return nil, nil, err
			}
			eng := NewEngine(state, oneShot(quantity), WithCloseOnFinish("one-shot"))
			return eng, NewMemoryFeeder(events), nil
		},
	}
}

func TestRunManyIsolatesRuns(t *testing.T) {
	events := []Event{tradeEvent(1, 100), tradeEvent(2, 110), tradeEvent(3, 120)}
	specs := []RunSpec{
		roundTripSpec(t, "q1", 1, events),
		roundTripSpec(t, "q5", 5, events),
		roundTripSpec(t, "q10", 10, events),
	}
	multi, err := RunMany(context.Background(), specs, 2)
	if err != nil {
		t.Fatalf("run many: %v", err)
	}
	if multi.NumBacktests != 3 || len(multi.Summaries) != 3 {
		t.Fatalf("multi = %+v", multi)
	}
	// results keep submission order, each run with its own state
	for i, want := range []int64{20, 100, 200} {
		summary := multi.Summaries[i]
		sheet := summary.Summary.Instruments["BTC-USDT"]
		if !sheet.PnL.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("run %s pnl = %s, want %d", summary.ID, sheet.PnL, want)
		}
	}
}

func TestRunManyIsolatesFailures(t *testing.T) {
	good := []Event{tradeEvent(1, 100), tradeEvent(2, 110)}
	bad := []Event{tradeEvent(5, 100), tradeEvent(3, 90)} // out of order, fatal
	specs := []RunSpec{
		roundTripSpec(t, "good-1", 1, good),
		roundTripSpec(t, "bad", 1, bad),
		roundTripSpec(t, "good-2", 2, good),
	}
	multi, err := RunMany(context.Background(), specs, 1)
	if err == nil {
		t.Fatalf("expected the bad run's error to surface")
	}
	if len(multi.Summaries) != 2 {
		t.Fatalf("sibling runs should complete: %+v", multi.Summaries)
	}
	for _, summary := range multi.Summaries {
		if summary.ID == "bad" {
			t.Fatalf("failed run must not produce a summary")
		}
	}
}

func TestRunManyCancelledBeforeStartSkipsRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := []Event{tradeEvent(1, 100)}
	multi, _ := RunMany(ctx, []RunSpec{roundTripSpec(t, "r1", 1, events)}, 1)
	if len(multi.Summaries) != 0 {
		t.Fatalf("cancelled batch should not schedule runs: %+v", multi.Summaries)
	}
}

func TestRunRecordsRuntimeMetrics(t *testing.T) {
	metrics := observability.NewRuntimeMetrics()
	spec := func(id string, events []Event) RunSpec {
		return RunSpec{
			ID: id,
			Build: func() (*Engine, DataFeeder, error) {
				state := enginestate.NewState("sim", btcUsdt)
				eng := NewEngine(state, strategy.Noop{}, WithRuntimeMetrics(metrics))
				return eng, NewMemoryFeeder(events), nil
			},
		}
	}

	if _, err := Run(context.Background(), spec("ok", []Event{tradeEvent(1, 100), tradeEvent(2, 101)})); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := Run(context.Background(), spec("bad", []Event{tradeEvent(5, 100), tradeEvent(3, 90)})); err == nil {
		t.Fatalf("out-of-order run must fail")
	}

	snapshot := metrics.Snapshot()
	if snapshot.RunsCompleted != 1 || snapshot.RunsFailed != 1 {
		t.Fatalf("run counters = %+v", snapshot)
	}
	if snapshot.EventsReplayed["BTC-USDT"] != 3 {
		t.Fatalf("events replayed = %+v", snapshot.EventsReplayed)
	}
}

func TestRunDefaultsToDailyInterval(t *testing.T) {
	spec := RunSpec{
		ID: "no-interval",
		Build: func() (*Engine, DataFeeder, error) {
			state := enginestate.NewState("sim", btcUsdt)
			eng := NewEngine(state, strategy.Noop{}, WithRiskFreeReturn(decimal.NewFromFloat(0.02)))
			return eng, NewMemoryFeeder([]Event{tradeEvent(1, 100)}), nil
		},
	}
	summary, err := Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.ID != "no-interval" {
		t.Fatalf("summary id = %s", summary.ID)
	}
	if !summary.RiskFreeReturn.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("risk free = %s, want 0.02", summary.RiskFreeReturn)
	}
}
