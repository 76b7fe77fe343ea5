package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/replay/internal/observability"
	"github.com/coachpo/replay/internal/statistic"
)

// Summary pairs one run's identifier with its generated trading summary and
// the risk-free rate the summary's ratios were computed against.
type Summary struct {
	ID             string                   `json:"id"`
	RiskFreeReturn decimal.Decimal          `json:"risk_free_return"`
	Summary        statistic.TradingSummary `json:"trading_summary"`
}

// MultiSummary aggregates a batch of independent runs.
type MultiSummary struct {
	NumBacktests int           `json:"num_backtests"`
	Duration     time.Duration `json:"duration"`
	Summaries    []Summary     `json:"summaries"`
}

// RunSpec describes one backtest: how to build its isolated engine and which
// interval its summary is expressed over. Build must return a fresh Engine
// and feeder on every call; runs share nothing mutable.
type RunSpec struct {
	ID       string
	Interval statistic.TimeInterval
	Build    func() (*Engine, DataFeeder, error)
}

// Run executes a single backtest to completion and renders its summary.
func Run(ctx context.Context, spec RunSpec) (Summary, error) {
	engine, feeder, err := spec.Build()
	if err != nil {
		return Summary{}, fmt.Errorf("build run %s: %w", spec.ID, err)
	}
	observability.Log().Info("replay starting", observability.Field{Key: "run", Value: spec.ID})
	if err := engine.Run(ctx, feeder); err != nil {
		if metrics := engine.Metrics(); metrics != nil {
			metrics.IncrementRunsFailed()
		}
		return Summary{}, fmt.Errorf("run %s: %w", spec.ID, err)
	}
	if metrics := engine.Metrics(); metrics != nil {
		metrics.IncrementRunsCompleted()
	}
	interval := spec.Interval
	if interval == nil {
		interval = statistic.Daily{}
	}
	return Summary{ID: spec.ID, RiskFreeReturn: engine.RiskFreeReturn(), Summary: engine.Summary(interval)}, nil
}

// RunMany executes independent backtests across a bounded worker pool. Each
// run owns its state; failures are isolated per run and joined into the
// returned error while sibling runs complete. Cancellation is cooperative:
// runs already started finish, unstarted runs are skipped.
func RunMany(ctx context.Context, specs []RunSpec, maxWorkers int) (MultiSummary, error) {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	started := time.Now()

	var mu sync.Mutex
	results := make([]*Summary, len(specs))
	failures := make([]error, len(specs))

	workers := concpool.New().WithMaxGoroutines(maxWorkers)
	for i, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		i, spec := i, spec
		workers.Go(func() {
			summary, err := Run(ctx, spec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[i] = err
				observability.Log().Error("backtest run failed",
					observability.Field{Key: "run", Value: spec.ID},
					observability.Field{Key: "error", Value: err.Error()})
				return
			}
			results[i] = &summary
		})
	}
	workers.Wait()

	// summaries keep the order their specs were submitted in
	summaries := make([]Summary, 0, len(specs))
	for _, result := range results {
		if result != nil {
			summaries = append(summaries, *result)
		}
	}
	multi := MultiSummary{
		NumBacktests: len(specs),
		Duration:     time.Since(started),
		Summaries:    summaries,
	}
	return multi, observability.AggregateErrors("backtest batch", failures,
		observability.Field{Key: "num_backtests", Value: len(specs)})
}
