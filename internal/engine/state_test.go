package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/schema"
)

var btcUsdt = schema.InstrumentKey{Exchange: "sim", Instrument: "BTC-USDT"}

func newTestState(t *testing.T) *State {
	t.Helper()
	state := NewState("sim", btcUsdt)
	err := state.SeedBalance(schema.AssetKey{Exchange: "sim", Asset: "usdt"}, Balance{
		Total: decimal.NewFromInt(10000),
		Free:  decimal.NewFromInt(10000),
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return state
}

func at(offset int) time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Second)
}

func TestSeedBalanceRejectsMalformed(t *testing.T) {
	state := NewState("sim", btcUsdt)
	err := state.SeedBalance(schema.AssetKey{Exchange: "sim", Asset: "usdt"}, Balance{
		Total: decimal.NewFromInt(100),
		Free:  decimal.NewFromInt(150),
	})
	if !errs.Is(err, errs.CodeMalformedBalance) {
		t.Fatalf("free > total accepted: %v", err)
	}
	err = state.SeedBalance(schema.AssetKey{Exchange: "sim", Asset: "usdt"}, Balance{
		Total: decimal.NewFromInt(-1),
		Free:  decimal.NewFromInt(-1),
	})
	if !errs.Is(err, errs.CodeMalformedBalance) {
		t.Fatalf("negative balance accepted: %v", err)
	}
}

func TestClockNeverRetreats(t *testing.T) {
	state := newTestState(t)
	if err := state.UpdateTime(at(10)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// equal timestamps are fine, input order wins
	if err := state.UpdateTime(at(10)); err != nil {
		t.Fatalf("duplicate timestamp rejected: %v", err)
	}
	err := state.UpdateTime(at(9))
	if !errs.Is(err, errs.CodeNonMonotonic) {
		t.Fatalf("regression accepted: %v", err)
	}
}

func TestApplyMarketUnknownInstrumentFatal(t *testing.T) {
	state := newTestState(t)
	err := state.ApplyMarket(schema.MarketEvent{
		TimeExchange: at(1),
		Exchange:     "sim",
		Instrument:   "ETH-USDT",
		Kind:         schema.Trade{Price: decimal.NewFromInt(3000), Quantity: decimal.NewFromInt(1), Side: schema.SideBuy},
	})
	if !errs.Is(err, errs.CodeUnknownReference) {
		t.Fatalf("unknown instrument accepted: %v", err)
	}
}

func TestDisconnectResetsFreshnessOnly(t *testing.T) {
	state := newTestState(t)
	trade := schema.MarketEvent{
		TimeExchange: at(1),
		Exchange:     "sim",
		Instrument:   "BTC-USDT",
		Kind:         schema.Trade{Price: decimal.NewFromInt(50000), Quantity: decimal.NewFromInt(1), Side: schema.SideBuy},
	}
	if err := state.ApplyMarket(trade); err != nil {
		t.Fatalf("trade: %v", err)
	}
	instrument := state.Instruments[btcUsdt]
	if !instrument.DataFresh {
		t.Fatalf("trade should mark data fresh")
	}
	balancesBefore := state.Balances[schema.AssetKey{Exchange: "sim", Asset: "usdt"}]

	disconnect := schema.MarketEvent{TimeExchange: at(2), Exchange: "sim", Instrument: "BTC-USDT", Kind: schema.Disconnect{}}
	if err := state.ApplyMarket(disconnect); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if instrument.DataFresh {
		t.Fatalf("disconnect should reset freshness")
	}
	if !instrument.LastTradePrice.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("disconnect mutated market snapshot")
	}
	balancesAfter := state.Balances[schema.AssetKey{Exchange: "sim", Asset: "usdt"}]
	if !balancesBefore.Total.Equal(balancesAfter.Total) || !balancesBefore.Free.Equal(balancesAfter.Free) {
		t.Fatalf("disconnect mutated balances")
	}
}

func openAndAck(t *testing.T, state *State, cid string, side schema.Side, quantity float64) {
	t.Helper()
	req := testOpenRequest(cid, quantity)
	req.State.Side = side
	if err := state.RecordOrderInFlight(req); err != nil {
		t.Fatalf("record order: %v", err)
	}
	_, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: state.TimeEngine,
		Exchange:     "sim",
		Kind:         schema.OrderSnapshot{Key: req.Key, OrderID: schema.OrderID("oid-" + cid)},
	})
	if err != nil {
		t.Fatalf("ack order: %v", err)
	}
}

func ownTrade(cid string, side schema.Side, price, quantity, fees float64) schema.OwnTrade {
	return schema.OwnTrade{
		Key: schema.OrderKey{
			Exchange: "sim", Instrument: "BTC-USDT", Strategy: "test",
			ClientID: schema.ClientOrderID(cid),
		},
		TradeID:  "trade-" + cid,
		Side:     side,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(quantity),
		Fees:     decimal.NewFromFloat(fees),
		FeeAsset: "usdt",
	}
}

func TestRoundTripEmitsPositionExit(t *testing.T) {
	state := newTestState(t)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}
	openAndAck(t, state, "buy-1", schema.SideBuy, 1.0)
	delta, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(2), Exchange: "sim",
		Kind: ownTrade("buy-1", schema.SideBuy, 100, 1.0, 0.1),
	})
	if err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	if len(delta.Exits) != 0 {
		t.Fatalf("entry fill should not exit a position")
	}
	position := state.Instruments[btcUsdt].Position
	if position == nil || !position.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("position after entry = %+v", position)
	}

	openAndAck(t, state, "sell-1", schema.SideSell, 1.0)
	delta, err = state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(3), Exchange: "sim",
		Kind: ownTrade("sell-1", schema.SideSell, 110, 1.0, 0.1),
	})
	if err != nil {
		t.Fatalf("exit fill: %v", err)
	}
	if len(delta.Exits) != 1 {
		t.Fatalf("exits = %d, want 1", len(delta.Exits))
	}
	exit := delta.Exits[0]
	// 10 gross minus 0.2 fees
	if !exit.RealisedPnL.Equal(decimal.NewFromFloat(9.8)) {
		t.Fatalf("realised pnl = %s, want 9.8", exit.RealisedPnL)
	}
	if !exit.Fees.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("fees = %s, want 0.2", exit.Fees)
	}
	if state.Instruments[btcUsdt].Position != nil {
		t.Fatalf("position should be closed")
	}
	if !exit.TimeExit.Equal(at(3)) {
		t.Fatalf("time exit = %s, want t3", exit.TimeExit)
	}
}

func TestPartialReduceKeepsPosition(t *testing.T) {
	state := newTestState(t)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}
	openAndAck(t, state, "buy-2", schema.SideBuy, 2.0)
	if _, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(2), Exchange: "sim",
		Kind: ownTrade("buy-2", schema.SideBuy, 100, 2.0, 0),
	}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	openAndAck(t, state, "sell-2", schema.SideSell, 0.5)
	delta, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(3), Exchange: "sim",
		Kind: ownTrade("sell-2", schema.SideSell, 120, 0.5, 0),
	})
	if err != nil {
		t.Fatalf("partial exit: %v", err)
	}
	if len(delta.Exits) != 0 {
		t.Fatalf("partial reduce should not emit an exit")
	}
	position := state.Instruments[btcUsdt].Position
	if position == nil || !position.Quantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("position after reduce = %+v", position)
	}
	if !position.RealisedPnL.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("realised on partial = %s, want 10", position.RealisedPnL)
	}
}

func TestStaleOrderUpdateIsNonFatal(t *testing.T) {
	state := newTestState(t)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}
	_, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(2), Exchange: "sim",
		Kind: schema.OrderCancelled{
			Key: schema.OrderKey{Exchange: "sim", Instrument: "BTC-USDT", Strategy: "test", ClientID: "ghost"},
		},
	})
	if !errs.Is(err, errs.CodeStaleOrder) {
		t.Fatalf("unknown order error = %v, want stale order", err)
	}
	// applying an account event never moves the clock
	if !state.TimeEngine.Equal(at(1)) {
		t.Fatalf("clock = %s, want t1", state.TimeEngine)
	}
}

func TestApplyAccountLeavesClockAlone(t *testing.T) {
	state := newTestState(t)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}
	openAndAck(t, state, "buy-late", schema.SideBuy, 1.0)
	// a delayed exchange stamp must not drag the clock forward
	if _, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(10), Exchange: "sim",
		Kind: ownTrade("buy-late", schema.SideBuy, 100, 1.0, 0),
	}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if !state.TimeEngine.Equal(at(1)) {
		t.Fatalf("clock = %s, want t1", state.TimeEngine)
	}
	// the next input event at t2 is still valid
	if err := state.UpdateTime(at(2)); err != nil {
		t.Fatalf("clock after delayed fill: %v", err)
	}
}

func seedUpper(t *testing.T, state *State, asset string, amount int64) {
	t.Helper()
	err := state.SeedBalance(schema.AssetKey{Exchange: "sim", Asset: asset}, Balance{
		Total: decimal.NewFromInt(amount),
		Free:  decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", asset, err)
	}
}

func TestOrderInFlightReservesFreeBalance(t *testing.T) {
	state := newTestState(t)
	seedUpper(t, state, "USDT", 1000)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}

	// limit buy 2 @ 100 reserves 200 quote
	if err := state.RecordOrderInFlight(testOpenRequest("hold-1", 2.0)); err != nil {
		t.Fatalf("record order: %v", err)
	}
	key := schema.AssetKey{Exchange: "sim", Asset: "USDT"}
	balance := state.Balances[key]
	if !balance.Free.Equal(decimal.NewFromInt(800)) || !balance.Used().Equal(decimal.NewFromInt(200)) {
		t.Fatalf("after reserve: free=%s used=%s", balance.Free, balance.Used())
	}

	// cancellation releases the reservation back to free
	_, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(1), Exchange: "sim",
		Kind: schema.OrderCancelled{Key: testOpenRequest("hold-1", 2.0).Key},
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	balance = state.Balances[key]
	if !balance.Free.Equal(decimal.NewFromInt(1000)) || balance.Used().Sign() != 0 {
		t.Fatalf("after cancel: free=%s used=%s", balance.Free, balance.Used())
	}
}

func TestOpenFailedReleasesReservation(t *testing.T) {
	state := newTestState(t)
	seedUpper(t, state, "USDT", 150)
	if err := state.UpdateTime(at(1)); err != nil {
		t.Fatalf("clock: %v", err)
	}

	// the request wants 200 quote but only 150 is free; the hold is capped
	if err := state.RecordOrderInFlight(testOpenRequest("hold-2", 2.0)); err != nil {
		t.Fatalf("record order: %v", err)
	}
	key := schema.AssetKey{Exchange: "sim", Asset: "USDT"}
	if state.Balances[key].Free.Sign() != 0 {
		t.Fatalf("free = %s, want 0", state.Balances[key].Free)
	}

	_, err := state.ApplyAccount(schema.AccountEvent{
		TimeExchange: at(1), Exchange: "sim",
		Kind: schema.OrderOpenFailed{Key: testOpenRequest("hold-2", 2.0).Key, Reason: "insufficient balance"},
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	balance := state.Balances[key]
	if !balance.Free.Equal(decimal.NewFromInt(150)) || !balance.Total.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("after rejection: %+v", balance)
	}
}
