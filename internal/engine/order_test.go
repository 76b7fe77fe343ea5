package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/schema"
)

func testOpenRequest(cid string, quantity float64) schema.OrderRequestOpen {
	return schema.OrderRequestOpen{
		Key: schema.OrderKey{
			Exchange:   "sim",
			Instrument: "BTC-USDT",
			Strategy:   "test",
			ClientID:   schema.ClientOrderID(cid),
		},
		State: schema.RequestOpen{
			Side:        schema.SideBuy,
			Price:       decimal.NewFromInt(100),
			Quantity:    decimal.NewFromFloat(quantity),
			Kind:        schema.OrderKindLimit,
			TimeInForce: schema.TimeInForceGoodUntilCancelled,
		},
	}
}

func TestOrderLifecycleTwoFills(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	order := NewOrder(testOpenRequest("cid-1", 1.0))
	if order.State != StateOpenInFlight {
		t.Fatalf("initial state = %s, want open_in_flight", order.State)
	}
	if err := order.ApplyOpen("oid-1", now); err != nil {
		t.Fatalf("ApplyOpen: %v", err)
	}
	if order.State != StateOpen {
		t.Fatalf("state after ack = %s, want open", order.State)
	}
	if err := order.ApplyFill(decimal.NewFromFloat(0.4), now); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if order.State != StateOpen {
		t.Fatalf("partial fill changed state to %s", order.State)
	}
	if err := order.ApplyFill(decimal.NewFromFloat(0.6), now); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if order.State != StateFullyFilled {
		t.Fatalf("state after full fill = %s, want fully_filled", order.State)
	}
	if !order.FilledQuantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("filled quantity = %s, want 1", order.FilledQuantity)
	}
}

func TestOrderTerminalIsAbsorbing(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	terminalise := map[string]func(*Order) error{
		"cancelled":   func(o *Order) error { return o.ApplyCancelled(now) },
		"expired":     func(o *Order) error { return o.ApplyExpired(now) },
		"open_failed": func(o *Order) error { return o.ApplyOpenFailed(now) },
	}
	for name, terminal := range terminalise {
		order := NewOrder(testOpenRequest("cid-"+name, 1.0))
		if err := terminal(order); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		final := order.State
		if !final.Terminal() {
			t.Fatalf("%s: state %s not terminal", name, final)
		}
		transitions := []func() error{
			func() error { return order.ApplyOpen("oid", now) },
			func() error { return order.ApplyFill(decimal.NewFromInt(1), now) },
			func() error { return order.ApplyCancelInFlight() },
			func() error { return order.ApplyCancelled(now) },
			func() error { return order.ApplyExpired(now) },
		}
		for i, transition := range transitions {
			err := transition()
			if err == nil {
				t.Fatalf("%s: transition %d accepted after terminal state", name, i)
			}
			if !errs.Is(err, errs.CodeStaleOrder) {
				t.Fatalf("%s: transition %d error = %v, want stale order", name, i, err)
			}
			if order.State != final {
				t.Fatalf("%s: terminal state mutated to %s", name, order.State)
			}
		}
	}
}

func TestOrderCancelPreservesFill(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	order := NewOrder(testOpenRequest("cid-2", 2.0))
	if err := order.ApplyOpen("oid-2", now); err != nil {
		t.Fatalf("ApplyOpen: %v", err)
	}
	if err := order.ApplyFill(decimal.NewFromFloat(0.5), now); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := order.ApplyCancelInFlight(); err != nil {
		t.Fatalf("cancel in flight: %v", err)
	}
	if order.State != StateCancelInFlight {
		t.Fatalf("state = %s, want cancel_in_flight", order.State)
	}
	if !order.FilledQuantity.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("cancel dropped filled quantity: %s", order.FilledQuantity)
	}
	// a fill racing the cancel still completes the order
	if err := order.ApplyFill(decimal.NewFromFloat(1.5), now); err != nil {
		t.Fatalf("fill during cancel: %v", err)
	}
	if order.State != StateFullyFilled {
		t.Fatalf("state = %s, want fully_filled", order.State)
	}
}
