package statistic

import (
	"math"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Extreme values stand in for division by zero volatility or zero drawdown:
// a positive excess return over zero risk is reported as the maximum
// representable value rather than an error.
var (
	maxValue = decimal.NewFromFloat(math.MaxFloat64)
	minValue = decimal.NewFromFloat(-math.MaxFloat64)
)

func sqrtScale(from, to TimeInterval) decimal.Decimal {
	ratio := to.Interval().Seconds() / from.Interval().Seconds()
	return decimal.NewFromFloat(math.Sqrt(ratio))
}

func linearScale(from, to TimeInterval) decimal.Decimal {
	ratio := to.Interval().Seconds() / from.Interval().Seconds()
	return decimal.NewFromFloat(ratio)
}

// SharpeRatio is mean excess return over return volatility, expressed over
// Interval.
type SharpeRatio struct {
	Value    decimal.Decimal
	Interval TimeInterval
}

// CalculateSharpe computes the ratio for returns observed over interval.
func CalculateSharpe(riskFreeReturn, meanReturn, stdDevReturns decimal.Decimal, interval TimeInterval) SharpeRatio {
	excess := meanReturn.Sub(riskFreeReturn)
	return SharpeRatio{Value: ratioOrExtreme(excess, stdDevReturns), Interval: interval}
}

// Scale re-expresses the ratio over target, assuming independent returns.
func (r SharpeRatio) Scale(target TimeInterval) SharpeRatio {
	return SharpeRatio{Value: r.Value.Mul(sqrtScale(r.Interval, target)), Interval: target}
}

// SortinoRatio is mean excess return over downside volatility, expressed over
// Interval.
type SortinoRatio struct {
	Value    decimal.Decimal
	Interval TimeInterval
}

// CalculateSortino computes the ratio using the volatility of negative
// returns only.
func CalculateSortino(riskFreeReturn, meanReturn, stdDevLossReturns decimal.Decimal, interval TimeInterval) SortinoRatio {
	excess := meanReturn.Sub(riskFreeReturn)
	return SortinoRatio{Value: ratioOrExtreme(excess, stdDevLossReturns), Interval: interval}
}

func (r SortinoRatio) Scale(target TimeInterval) SortinoRatio {
	return SortinoRatio{Value: r.Value.Mul(sqrtScale(r.Interval, target)), Interval: target}
}

// CalmarRatio is mean excess return over the maximum drawdown magnitude,
// expressed over Interval.
type CalmarRatio struct {
	Value    decimal.Decimal
	Interval TimeInterval
}

func CalculateCalmar(riskFreeReturn, meanReturn, maxDrawdown decimal.Decimal, interval TimeInterval) CalmarRatio {
	excess := meanReturn.Sub(riskFreeReturn)
	return CalmarRatio{Value: ratioOrExtreme(excess, maxDrawdown.Abs()), Interval: interval}
}

func (r CalmarRatio) Scale(target TimeInterval) CalmarRatio {
	return CalmarRatio{Value: r.Value.Mul(sqrtScale(r.Interval, target)), Interval: target}
}

// RateOfReturn is mean return expressed over Interval. Unlike the risk
// ratios it scales linearly with time.
type RateOfReturn struct {
	Value    decimal.Decimal
	Interval TimeInterval
}

func CalculateRateOfReturn(meanReturn decimal.Decimal, interval TimeInterval) RateOfReturn {
	return RateOfReturn{Value: meanReturn, Interval: interval}
}

func (r RateOfReturn) Scale(target TimeInterval) RateOfReturn {
	return RateOfReturn{Value: r.Value.Mul(linearScale(r.Interval, target)), Interval: target}
}

type metricJSON struct {
	Value    decimal.Decimal `json:"value"`
	Interval string          `json:"interval"`
}

func marshalMetric(value decimal.Decimal, interval TimeInterval) ([]byte, error) {
	name := ""
	if interval != nil {
		name = interval.Name()
	}
	return json.Marshal(metricJSON{Value: value, Interval: name})
}

func (r SharpeRatio) MarshalJSON() ([]byte, error)  { return marshalMetric(r.Value, r.Interval) }
func (r SortinoRatio) MarshalJSON() ([]byte, error) { return marshalMetric(r.Value, r.Interval) }
func (r CalmarRatio) MarshalJSON() ([]byte, error)  { return marshalMetric(r.Value, r.Interval) }
func (r RateOfReturn) MarshalJSON() ([]byte, error) { return marshalMetric(r.Value, r.Interval) }

func ratioOrExtreme(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		switch numerator.Sign() {
		case 1:
			return maxValue
		case -1:
			return minValue
		default:
			return decimal.Zero
		}
	}
	return numerator.Div(denominator)
}

// CalculateProfitFactor divides gross profits by the magnitude of gross
// losses. It is undefined when both are zero, and the maximum value when
// profits exist without any losses.
func CalculateProfitFactor(grossProfits, grossLosses decimal.Decimal) (decimal.Decimal, bool) {
	losses := grossLosses.Abs()
	if grossProfits.IsZero() && losses.IsZero() {
		return decimal.Decimal{}, false
	}
	if losses.IsZero() {
		return maxValue, true
	}
	return grossProfits.Div(losses), true
}

// CalculateWinRate divides winning trades by total trades, undefined when no
// trades closed.
func CalculateWinRate(wins, total decimal.Decimal) (decimal.Decimal, bool) {
	if total.IsZero() {
		return decimal.Decimal{}, false
	}
	return wins.Div(total), true
}
