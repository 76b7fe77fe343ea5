package statistic

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestProfitFactor(t *testing.T) {
	value, ok := CalculateProfitFactor(decimal.NewFromInt(15000), decimal.NewFromInt(10000))
	if !ok || !value.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("profit factor = %s %v, want 1.5", value, ok)
	}
	if _, ok := CalculateProfitFactor(decimal.Zero, decimal.Zero); ok {
		t.Fatalf("both-zero profit factor should be undefined")
	}
	// zero losses with positive profits still yields a value
	value, ok = CalculateProfitFactor(decimal.NewFromInt(100), decimal.Zero)
	if !ok || !value.Equal(maxValue) {
		t.Fatalf("zero-loss profit factor = %s %v, want max value", value, ok)
	}
}

func TestWinRate(t *testing.T) {
	if _, ok := CalculateWinRate(decimal.Zero, decimal.Zero); ok {
		t.Fatalf("zero-trade win rate should be undefined")
	}
	value, ok := CalculateWinRate(decimal.NewFromInt(65), decimal.NewFromInt(100))
	if !ok || !value.Equal(decimal.NewFromFloat(0.65)) {
		t.Fatalf("win rate = %s %v, want 0.65", value, ok)
	}
}

func TestSharpeZeroVolatility(t *testing.T) {
	daily := Daily{}
	positive := CalculateSharpe(decimal.Zero, decimal.NewFromFloat(0.01), decimal.Zero, daily)
	if !positive.Value.Equal(maxValue) {
		t.Fatalf("positive excess over zero volatility = %s, want max value", positive.Value)
	}
	negative := CalculateSharpe(decimal.Zero, decimal.NewFromFloat(-0.01), decimal.Zero, daily)
	if !negative.Value.Equal(minValue) {
		t.Fatalf("negative excess over zero volatility = %s, want min value", negative.Value)
	}
	flat := CalculateSharpe(decimal.Zero, decimal.Zero, decimal.Zero, daily)
	if !flat.Value.IsZero() {
		t.Fatalf("zero excess over zero volatility = %s, want 0", flat.Value)
	}
}

func TestSharpeScaling(t *testing.T) {
	daily := CalculateSharpe(decimal.Zero, decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.02), Daily{})
	annual := daily.Scale(Annual252{})
	want := daily.Value.InexactFloat64() * math.Sqrt(252)
	if got := annual.Value.InexactFloat64(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("annualised sharpe = %v, want %v", got, want)
	}
	if annual.Interval.Name() != "Annual(252)" {
		t.Fatalf("interval = %s, want Annual(252)", annual.Interval.Name())
	}
}

func TestRateOfReturnScalingRoundTrip(t *testing.T) {
	original := CalculateRateOfReturn(decimal.NewFromFloat(0.0004), Daily{})
	roundTrip := original.Scale(Annual252{}).Scale(Daily{})
	diff := roundTrip.Value.Sub(original.Value).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(1e-12)) {
		t.Fatalf("round trip drifted by %s", diff)
	}
	annual := original.Scale(Annual252{})
	want := decimal.NewFromFloat(0.0004).Mul(decimal.NewFromInt(252))
	if annual.Value.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1e-12)) {
		t.Fatalf("annual rate = %s, want %s", annual.Value, want)
	}
}

func TestCalmarZeroDrawdown(t *testing.T) {
	positive := CalculateCalmar(decimal.Zero, decimal.NewFromFloat(0.01), decimal.Zero, Daily{})
	if !positive.Value.Equal(maxValue) {
		t.Fatalf("calmar with zero drawdown and positive excess = %s, want max value", positive.Value)
	}
	negative := CalculateCalmar(decimal.Zero, decimal.NewFromFloat(-0.01), decimal.Zero, Daily{})
	if !negative.Value.Equal(minValue) {
		t.Fatalf("calmar with zero drawdown and negative excess = %s, want min value", negative.Value)
	}
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"daily", "Daily"},
		{"DAILY", "Daily"},
		{"annual_252", "Annual(252)"},
		{"Annual(365)", "Annual(365)"},
		{"", "Daily"},
	}
	for _, tc := range cases {
		interval, err := ParseInterval(tc.raw)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tc.raw, err)
		}
		if interval.Name() != tc.want {
			t.Fatalf("ParseInterval(%q) = %s, want %s", tc.raw, interval.Name(), tc.want)
		}
	}
	if _, err := ParseInterval("fortnightly"); err == nil {
		t.Fatalf("expected error for unknown interval")
	}
}
