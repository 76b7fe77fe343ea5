package statistic

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timed pairs a value with the engine time it was observed at.
type Timed struct {
	Value decimal.Decimal
	Time  time.Time
}

// Drawdown is a single peak-to-trough episode of an equity curve.
// Value is the decline relative to the peak when the peak is positive,
// and the absolute decline otherwise.
type Drawdown struct {
	Value     decimal.Decimal `json:"value"`
	Peak      decimal.Decimal `json:"peak"`
	Trough    decimal.Decimal `json:"trough"`
	TimeStart time.Time       `json:"time_start"`
	TimeEnd   time.Time       `json:"time_end"`
}

// Duration is the time spent below the peak.
func (d Drawdown) Duration() time.Duration {
	return d.TimeEnd.Sub(d.TimeStart)
}

// MeanDrawdown aggregates completed drawdown episodes.
type MeanDrawdown struct {
	MeanDrawdown decimal.Decimal `json:"mean_drawdown"`
	MeanDuration time.Duration   `json:"mean_duration"`
}

// DrawdownGenerator detects drawdown episodes incrementally from a series of
// equity points. A completed episode is returned by Update when the series
// makes a new peak; a still-open episode is visible through Generate.
type DrawdownGenerator struct {
	initialised bool
	peak        Timed
	trough      Timed
	timeNow     time.Time
}

// Update folds in the next equity point, returning a completed episode when
// the point sets a new peak after a dip.
func (g *DrawdownGenerator) Update(point Timed) (Drawdown, bool) {
	if !g.initialised {
		g.initialised = true
		g.peak = point
		g.trough = point
		g.timeNow = point.Time
		return Drawdown{}, false
	}
	g.timeNow = point.Time
	if point.Value.GreaterThanOrEqual(g.peak.Value) {
		var completed Drawdown
		ok := g.inEpisode()
		if ok {
			completed = g.episode(point.Time)
		}
		g.peak = point
		g.trough = point
		return completed, ok
	}
	if point.Value.LessThan(g.trough.Value) {
		g.trough = point
	}
	return Drawdown{}, false
}

// Generate returns the trailing open episode, if any, without mutating the
// generator. The episode ends at the most recent point seen.
func (g *DrawdownGenerator) Generate() (Drawdown, bool) {
	if !g.inEpisode() {
		return Drawdown{}, false
	}
	return g.episode(g.timeNow), true
}

func (g *DrawdownGenerator) inEpisode() bool {
	return g.initialised && g.trough.Value.LessThan(g.peak.Value)
}

func (g *DrawdownGenerator) episode(end time.Time) Drawdown {
	decline := g.peak.Value.Sub(g.trough.Value)
	value := decline
	if g.peak.Value.IsPositive() {
		value = decline.Div(g.peak.Value)
	}
	return Drawdown{
		Value:     value,
		Peak:      g.peak.Value,
		Trough:    g.trough.Value,
		TimeStart: g.peak.Time,
		TimeEnd:   end,
	}
}

// MaxDrawdownGenerator tracks the deepest episode seen so far.
type MaxDrawdownGenerator struct {
	max Drawdown
	has bool
}

func (g *MaxDrawdownGenerator) Update(d Drawdown) {
	if !g.has || d.Value.GreaterThan(g.max.Value) {
		g.max = d
		g.has = true
	}
}

func (g *MaxDrawdownGenerator) Generate() (Drawdown, bool) {
	return g.max, g.has
}

// MeanDrawdownGenerator tracks the mean depth and duration of episodes.
type MeanDrawdownGenerator struct {
	count       int64
	sumValue    decimal.Decimal
	sumDuration time.Duration
}

func (g *MeanDrawdownGenerator) Update(d Drawdown) {
	g.count++
	g.sumValue = g.sumValue.Add(d.Value)
	g.sumDuration += d.Duration()
}

func (g *MeanDrawdownGenerator) Generate() (MeanDrawdown, bool) {
	if g.count == 0 {
		return MeanDrawdown{}, false
	}
	return MeanDrawdown{
		MeanDrawdown: g.sumValue.Div(decimal.NewFromInt(g.count)),
		MeanDuration: g.sumDuration / time.Duration(g.count),
	}, true
}
