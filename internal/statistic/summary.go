package statistic

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/schema"
)

// TearSheet is the per-instrument performance report for one interval.
type TearSheet struct {
	PnL             decimal.Decimal  `json:"pnl"`
	PnLReturn       RateOfReturn     `json:"pnl_return"`
	SharpeRatio     SharpeRatio      `json:"sharpe_ratio"`
	SortinoRatio    SortinoRatio     `json:"sortino_ratio"`
	CalmarRatio     CalmarRatio      `json:"calmar_ratio"`
	PnLDrawdown     *Drawdown        `json:"pnl_drawdown"`
	PnLDrawdownMean *MeanDrawdown    `json:"pnl_drawdown_mean"`
	PnLDrawdownMax  *Drawdown        `json:"pnl_drawdown_max"`
	WinRate         *decimal.Decimal `json:"win_rate"`
	ProfitFactor    *decimal.Decimal `json:"profit_factor"`
}

// TearSheetAsset is the per-asset balance report.
type TearSheetAsset struct {
	BalanceEnd   engine.Balance `json:"balance_end"`
	Drawdown     *Drawdown      `json:"drawdown"`
	DrawdownMean *MeanDrawdown  `json:"drawdown_mean"`
	DrawdownMax  *Drawdown      `json:"drawdown_max"`
}

// TradingSummary is an immutable report generated on demand from a
// TradingSummaryGenerator.
type TradingSummary struct {
	TimeEngineStart time.Time                 `json:"time_engine_start"`
	TimeEngineEnd   time.Time                 `json:"time_engine_end"`
	Instruments     map[string]TearSheet      `json:"instruments"`
	Assets          map[string]TearSheetAsset `json:"assets"`
}

// TearSheetGenerator accumulates one instrument's realised performance.
type TearSheetGenerator struct {
	pnl          decimal.Decimal
	returns      Welford
	lossReturns  Welford
	wins         int64
	trades       int64
	grossProfit  decimal.Decimal
	grossLoss    decimal.Decimal
	drawdowns    DrawdownGenerator
	drawdownMean MeanDrawdownGenerator
	drawdownMax  MaxDrawdownGenerator
}

// UpdateFromPositionExit folds one closed round trip into the accumulators.
func (g *TearSheetGenerator) UpdateFromPositionExit(exit engine.PositionExit) {
	g.pnl = g.pnl.Add(exit.RealisedPnL)
	ret := exit.Return()
	g.returns.Update(ret.InexactFloat64())
	if ret.Sign() < 0 {
		g.lossReturns.Update(ret.InexactFloat64())
	}
	g.trades++
	if exit.RealisedPnL.Sign() > 0 {
		g.wins++
		g.grossProfit = g.grossProfit.Add(exit.RealisedPnL)
	} else {
		g.grossLoss = g.grossLoss.Add(exit.RealisedPnL.Abs())
	}
	if completed, ok := g.drawdowns.Update(Timed{Value: g.pnl, Time: exit.TimeExit}); ok {
		g.drawdownMean.Update(completed)
		g.drawdownMax.Update(completed)
	}
}

// Generate renders the tear sheet scaled to the requested interval. It is a
// pure read: the generator keeps accumulating afterwards.
func (g *TearSheetGenerator) Generate(riskFreeReturn decimal.Decimal, span time.Duration, interval TimeInterval) TearSheet {
	source := TimeInterval(Custom{Duration: span})
	if span <= 0 {
		source = interval
	}
	mean := decimal.NewFromFloat(g.returns.Mean())
	stdDev := decimal.NewFromFloat(g.returns.StdDev())
	downside := decimal.NewFromFloat(g.lossReturns.StdDev())

	// the trailing open episode counts without being consumed
	meanGen := g.drawdownMean
	maxGen := g.drawdownMax
	if open, ok := g.drawdowns.Generate(); ok {
		meanGen.Update(open)
		maxGen.Update(open)
	}
	sheet := TearSheet{
		PnL:          g.pnl,
		PnLReturn:    CalculateRateOfReturn(mean, source).Scale(interval),
		SharpeRatio:  CalculateSharpe(riskFreeReturn, mean, stdDev, source).Scale(interval),
		SortinoRatio: CalculateSortino(riskFreeReturn, mean, downside, source).Scale(interval),
	}
	if current, ok := g.drawdowns.Generate(); ok {
		dd := current
		sheet.PnLDrawdown = &dd
	}
	if meanDD, ok := meanGen.Generate(); ok {
		sheet.PnLDrawdownMean = &meanDD
	}
	maxDrawdown := decimal.Zero
	if maxDD, ok := maxGen.Generate(); ok {
		dd := maxDD
		sheet.PnLDrawdownMax = &dd
		maxDrawdown = maxDD.Value
	}
	sheet.CalmarRatio = CalculateCalmar(riskFreeReturn, mean, maxDrawdown, source).Scale(interval)
	if rate, ok := CalculateWinRate(decimal.NewFromInt(g.wins), decimal.NewFromInt(g.trades)); ok {
		sheet.WinRate = &rate
	}
	if factor, ok := CalculateProfitFactor(g.grossProfit, g.grossLoss); ok {
		sheet.ProfitFactor = &factor
	}
	return sheet
}

// TearSheetAssetGenerator accumulates one asset's balance history.
type TearSheetAssetGenerator struct {
	balanceEnd   engine.Balance
	drawdowns    DrawdownGenerator
	drawdownMean MeanDrawdownGenerator
	drawdownMax  MaxDrawdownGenerator
}

// UpdateFromBalance folds one balance snapshot into the accumulators.
func (g *TearSheetAssetGenerator) UpdateFromBalance(balance engine.Balance, at time.Time) {
	g.balanceEnd = balance
	if completed, ok := g.drawdowns.Update(Timed{Value: balance.Total, Time: at}); ok {
		g.drawdownMean.Update(completed)
		g.drawdownMax.Update(completed)
	}
}

// Generate renders the asset tear sheet without consuming state.
func (g *TearSheetAssetGenerator) Generate() TearSheetAsset {
	meanGen := g.drawdownMean
	maxGen := g.drawdownMax
	if open, ok := g.drawdowns.Generate(); ok {
		meanGen.Update(open)
		maxGen.Update(open)
	}
	sheet := TearSheetAsset{BalanceEnd: g.balanceEnd}
	if current, ok := g.drawdowns.Generate(); ok {
		dd := current
		sheet.Drawdown = &dd
	}
	if meanDD, ok := meanGen.Generate(); ok {
		sheet.DrawdownMean = &meanDD
	}
	if maxDD, ok := maxGen.Generate(); ok {
		dd := maxDD
		sheet.DrawdownMax = &dd
	}
	return sheet
}

// TradingSummaryGenerator is the mutable accumulator behind TradingSummary.
// Generate may be called repeatedly over monotonically extended inputs.
type TradingSummaryGenerator struct {
	RiskFreeReturn  decimal.Decimal
	TimeEngineStart time.Time
	TimeEngineNow   time.Time

	instruments map[string]*TearSheetGenerator
	assets      map[string]*TearSheetAssetGenerator
}

func NewTradingSummaryGenerator(riskFreeReturn decimal.Decimal, start time.Time) *TradingSummaryGenerator {
	return &TradingSummaryGenerator{
		RiskFreeReturn:  riskFreeReturn,
		TimeEngineStart: start,
		TimeEngineNow:   start,
		instruments:     make(map[string]*TearSheetGenerator),
		assets:          make(map[string]*TearSheetAssetGenerator),
	}
}

// UpdateTimeNow advances the generator's view of engine time.
func (g *TradingSummaryGenerator) UpdateTimeNow(now time.Time) {
	if now.After(g.TimeEngineNow) {
		g.TimeEngineNow = now
	}
}

func (g *TradingSummaryGenerator) instrument(name string) *TearSheetGenerator {
	sheet, ok := g.instruments[name]
	if !ok {
		sheet = &TearSheetGenerator{}
		g.instruments[name] = sheet
	}
	return sheet
}

func (g *TradingSummaryGenerator) asset(key schema.AssetKey) *TearSheetAssetGenerator {
	sheet, ok := g.assets[key.String()]
	if !ok {
		sheet = &TearSheetAssetGenerator{}
		g.assets[key.String()] = sheet
	}
	return sheet
}

// UpdateFromPositionExit records a closed round trip.
func (g *TradingSummaryGenerator) UpdateFromPositionExit(exit engine.PositionExit) {
	g.UpdateTimeNow(exit.TimeExit)
	g.instrument(exit.Instrument.Instrument).UpdateFromPositionExit(exit)
}

// UpdateFromBalance records a balance snapshot.
func (g *TradingSummaryGenerator) UpdateFromBalance(key schema.AssetKey, balance engine.Balance, at time.Time) {
	g.UpdateTimeNow(at)
	g.asset(key).UpdateFromBalance(balance, at)
}

// Generate renders an immutable summary scaled to the requested interval.
func (g *TradingSummaryGenerator) Generate(interval TimeInterval) TradingSummary {
	span := g.TimeEngineNow.Sub(g.TimeEngineStart)
	summary := TradingSummary{
		TimeEngineStart: g.TimeEngineStart,
		TimeEngineEnd:   g.TimeEngineNow,
		Instruments:     make(map[string]TearSheet, len(g.instruments)),
		Assets:          make(map[string]TearSheetAsset, len(g.assets)),
	}
	for name, sheet := range g.instruments {
		summary.Instruments[name] = sheet.Generate(g.RiskFreeReturn, span, interval)
	}
	for name, sheet := range g.assets {
		summary.Assets[name] = sheet.Generate()
	}
	return summary
}
