// Command backtest replays historical CSV trade data through one or more
// strategies and prints the resulting trading summaries as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/config"
	"github.com/coachpo/replay/internal/backtest"
	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/schema"
	"github.com/coachpo/replay/internal/strategy"
	jsstrategy "github.com/coachpo/replay/internal/strategy/js"
	"github.com/coachpo/replay/lib/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	dataPath := flag.String("data", "", "Path to the historical trade CSV")
	strategyName := flag.String("strategy", "buyhold", "Strategy to run: noop, buyhold, or a path to a .js script")
	notional := flag.String("notional", "1000", "Quote notional per instrument for buyhold")
	runs := flag.Int("runs", 1, "Number of independent runs of the same configuration")
	flag.Parse()

	logger := log.New(os.Stderr, "backtest ", log.LstdFlags|log.Lmsgprefix)

	if *dataPath == "" {
		logger.Fatal("missing required -data flag")
	}

	cfg, err := loadSettings(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := newSignalContext()
	defer cancel()

	_, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	specs, err := buildSpecs(cfg, *dataPath, *strategyName, *notional, *runs)
	if err != nil {
		logger.Fatalf("build runs: %v", err)
	}

	multi, err := backtest.RunMany(ctx, specs, cfg.MaxParallel)
	if err != nil {
		logger.Printf("replay: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(multi); err != nil {
		logger.Fatalf("encode summary: %v", err)
	}
	if len(multi.Summaries) < multi.NumBacktests {
		os.Exit(1)
	}
}

func loadSettings(path string) (config.Settings, error) {
	if path == "" {
		cfg := config.Default()
		cfg.Instruments = []string{"BTC-USDT"}
		cfg.SeedBalances = []config.SeedBalance{{Asset: "USDT", Total: "1000000"}}
		return cfg, nil
	}
	return config.Load(path)
}

func buildSpecs(cfg config.Settings, dataPath, strategyName, notional string, runs int) ([]backtest.RunSpec, error) {
	interval, err := cfg.SummaryInterval()
	if err != nil {
		return nil, err
	}
	executionOpts, err := cfg.ExecutionOptions()
	if err != nil {
		return nil, err
	}
	seeds, err := cfg.SeedBalanceValues()
	if err != nil {
		return nil, err
	}
	if runs <= 0 {
		runs = 1
	}

	exchange := schema.ExchangeID(cfg.Exchange)
	instruments := make([]schema.InstrumentKey, 0, len(cfg.Instruments))
	for _, symbol := range cfg.Instruments {
		instruments = append(instruments, schema.InstrumentKey{Exchange: exchange, Instrument: symbol})
	}

	specs := make([]backtest.RunSpec, 0, runs)
	for run := 0; run < runs; run++ {
		specs = append(specs, backtest.RunSpec{
			ID:       fmt.Sprintf("%s-%d", strategyName, run),
			Interval: interval,
			Build: func() (*backtest.Engine, backtest.DataFeeder, error) {
				state := engine.NewState(exchange, instruments...)
				for _, seed := range seeds {
					key := schema.AssetKey{Exchange: exchange, Asset: seed.Asset}
					if err := state.SeedBalance(key, engine.Balance{Total: seed.Total, Free: seed.Free}); err != nil {
						return nil, nil, err
					}
				}

				strat, err := buildStrategy(strategyName, notional)
				if err != nil {
					return nil, nil, err
				}
				manager, err := cfg.RiskManager()
				if err != nil {
					return nil, nil, err
				}

				opts := []backtest.EngineOption{
					backtest.WithRiskManager(manager),
					backtest.WithExecution(backtest.NewExecution(executionOpts...)),
					backtest.WithRiskFreeReturn(cfg.RiskFreeReturnValue()),
				}
				if cfg.CloseOnFinish {
					opts = append(opts, backtest.WithCloseOnFinish("close-on-finish"))
				}

				feeder, err := backtest.NewCSVFeeder(dataPath, exchange)
				if err != nil {
					return nil, nil, err
				}
				return backtest.NewEngine(state, strat, opts...), feeder, nil
			},
		})
	}
	return specs, nil
}

func buildStrategy(name, notional string) (strategy.Strategy, error) {
	switch name {
	case "noop":
		return strategy.Noop{}, nil
	case "buyhold":
		amount, err := decimal.NewFromString(notional)
		if err != nil {
			return nil, fmt.Errorf("parse notional: %w", err)
		}
		return strategy.NewBuyAndHold("buyhold", amount), nil
	default:
		source, err := os.ReadFile(name) // #nosec G304 -- path is operator controlled.
		if err != nil {
			return nil, fmt.Errorf("read strategy script: %w", err)
		}
		return jsstrategy.New(name, string(source))
	}
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
