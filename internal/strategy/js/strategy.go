// Package js runs strategies written in JavaScript on an embedded VM. A
// script exports a generateOrders(snapshot) function returning cancel and
// open requests; the VM is confined to its run's goroutine.
package js

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/errs"
	"github.com/coachpo/replay/internal/engine"
	"github.com/coachpo/replay/internal/observability"
	"github.com/coachpo/replay/internal/schema"
)

// Strategy satisfies strategy.Strategy by delegating to a JavaScript handler.
type Strategy struct {
	name     string
	rt       *goja.Runtime
	generate goja.Callable
}

// New compiles the script and resolves its generateOrders export.
func New(name, source string) (*Strategy, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := rt.RunString(source); err != nil {
		return nil, errs.New("strategy", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("script %s failed to evaluate", name)),
			errs.WithCause(err))
	}
	value := rt.Get("generateOrders")
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, errs.New("strategy", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("script %s must define generateOrders(snapshot)", name)),
			errs.WithRemediation("export a top-level function generateOrders"))
	}
	return &Strategy{name: name, rt: rt, generate: callable}, nil
}

type instrumentView struct {
	Exchange   string       `json:"exchange"`
	Instrument string       `json:"instrument"`
	MarkPrice  float64      `json:"mark_price"`
	LastTrade  float64      `json:"last_trade"`
	Bid        float64      `json:"bid"`
	Ask        float64      `json:"ask"`
	DataFresh  bool         `json:"data_fresh"`
	Position   positionView `json:"position"`
	OpenOrders []orderView  `json:"open_orders"`
}

type positionView struct {
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

type orderView struct {
	ClientID string  `json:"cid"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Filled   float64 `json:"filled"`
}

type snapshotView struct {
	TimeMs      int64                     `json:"time_ms"`
	Instruments []instrumentView          `json:"instruments"`
	Balances    map[string]map[string]any `json:"balances"`
}

type requestView struct {
	Cancels []struct {
		Instrument string `json:"instrument"`
		ClientID   string `json:"cid"`
	} `json:"cancels"`
	Opens []struct {
		Instrument  string  `json:"instrument"`
		Side        string  `json:"side"`
		Price       float64 `json:"price"`
		Quantity    float64 `json:"quantity"`
		Kind        string  `json:"kind"`
		TimeInForce string  `json:"time_in_force"`
		ClientID    string  `json:"cid"`
	} `json:"opens"`
}

// GenerateOrders hands a plain-data snapshot to the script and converts its
// response. Script failures are logged and produce no orders; a strategy
// bug must not abort the replay.
func (s *Strategy) GenerateOrders(state *engine.State) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	result, err := s.generate(goja.Undefined(), s.rt.ToValue(snapshotOf(state)))
	if err != nil {
		observability.Log().Error("js strategy invocation failed",
			observability.Field{Key: "strategy", Value: s.name},
			observability.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}
	var response requestView
	if err := s.rt.ExportTo(result, &response); err != nil {
		observability.Log().Error("js strategy returned malformed requests",
			observability.Field{Key: "strategy", Value: s.name},
			observability.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}
	return s.convert(state, response)
}

func snapshotOf(state *engine.State) snapshotView {
	view := snapshotView{
		TimeMs:   state.TimeEngine.UnixMilli(),
		Balances: make(map[string]map[string]any, len(state.Balances)),
	}
	for key, balance := range state.Balances {
		view.Balances[key.String()] = map[string]any{
			"total": balance.Total.InexactFloat64(),
			"free":  balance.Free.InexactFloat64(),
		}
	}
	for key, instrument := range state.Instruments {
		iv := instrumentView{
			Exchange:   string(key.Exchange),
			Instrument: key.Instrument,
			MarkPrice:  instrument.MarkPrice().InexactFloat64(),
			LastTrade:  instrument.LastTradePrice.InexactFloat64(),
			Bid:        instrument.BestBook.BidPrice.InexactFloat64(),
			Ask:        instrument.BestBook.AskPrice.InexactFloat64(),
			DataFresh:  instrument.DataFresh,
		}
		if position := instrument.Position; position != nil {
			iv.Position = positionView{Side: string(position.Side), Quantity: position.Quantity.InexactFloat64()}
		}
		for _, order := range instrument.OpenOrders() {
			iv.OpenOrders = append(iv.OpenOrders, orderView{
				ClientID: string(order.Key.ClientID),
				Side:     string(order.Side),
				Price:    order.Price.InexactFloat64(),
				Quantity: order.Quantity.InexactFloat64(),
				Filled:   order.FilledQuantity.InexactFloat64(),
			})
		}
		view.Instruments = append(view.Instruments, iv)
	}
	return view
}

func (s *Strategy) convert(state *engine.State, response requestView) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	strategyID := schema.StrategyID(s.name)
	var cancels []schema.OrderRequestCancel
	for _, cancel := range response.Cancels {
		cancels = append(cancels, schema.OrderRequestCancel{
			Key: schema.OrderKey{
				Exchange:   state.Exchange,
				Instrument: cancel.Instrument,
				Strategy:   strategyID,
				ClientID:   schema.ClientOrderID(cancel.ClientID),
			},
		})
	}
	var opens []schema.OrderRequestOpen
	for _, open := range response.Opens {
		side := schema.Side(strings.ToLower(open.Side))
		if !side.Valid() || open.Quantity <= 0 {
			observability.Log().Error("js strategy emitted invalid open request",
				observability.Field{Key: "strategy", Value: s.name},
				observability.Field{Key: "side", Value: open.Side},
				observability.Field{Key: "quantity", Value: open.Quantity})
			continue
		}
		cid := open.ClientID
		if cid == "" {
			cid = uuid.NewString()
		}
		kind := schema.OrderKind(strings.ToLower(open.Kind))
		if kind != schema.OrderKindLimit {
			kind = schema.OrderKindMarket
		}
		tif := schema.TimeInForce(strings.ToLower(open.TimeInForce))
		switch tif {
		case schema.TimeInForceGoodUntilCancelled, schema.TimeInForceGoodUntilEndOfDay,
			schema.TimeInForceFillOrKill, schema.TimeInForceImmediateOrCancel:
		default:
			tif = schema.TimeInForceImmediateOrCancel
		}
		opens = append(opens, schema.OrderRequestOpen{
			Key: schema.OrderKey{
				Exchange:   state.Exchange,
				Instrument: open.Instrument,
				Strategy:   strategyID,
				ClientID:   schema.ClientOrderID(cid),
			},
			State: schema.RequestOpen{
				Side:        side,
				Price:       decimal.NewFromFloat(open.Price),
				Quantity:    decimal.NewFromFloat(open.Quantity),
				Kind:        kind,
				TimeInForce: tif,
			},
		})
	}
	return cancels, opens
}
