// Package schema defines the canonical market/account event types and order
// structures consumed by the replay engine.
package schema

import (
	"strings"

	"github.com/coachpo/replay/errs"
)

// ExchangeID names a trading venue (e.g. "binance_spot").
type ExchangeID string

// AssetKey uniquely identifies an asset on a venue.
type AssetKey struct {
	Exchange ExchangeID `json:"exchange" yaml:"exchange"`
	Asset    string     `json:"asset" yaml:"asset"`
}

func (k AssetKey) String() string {
	return string(k.Exchange) + ":" + k.Asset
}

// InstrumentKey uniquely identifies an instrument on a venue.
type InstrumentKey struct {
	Exchange   ExchangeID `json:"exchange" yaml:"exchange"`
	Instrument string     `json:"instrument" yaml:"instrument"`
}

func (k InstrumentKey) String() string {
	return string(k.Exchange) + ":" + k.Instrument
}

// ValidateInstrument verifies the canonical instrument representation (BASE-QUOTE).
func ValidateInstrument(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument requires base-quote"))
	}
	for _, part := range parts {
		if part == "" {
			return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument contains empty leg"))
		}
		if strings.ToUpper(part) != part {
			return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument must be uppercase"))
		}
	}
	return nil
}

// BaseAsset returns the base leg of a BASE-QUOTE instrument symbol.
func BaseAsset(symbol string) string {
	if idx := strings.IndexByte(symbol, '-'); idx > 0 {
		return symbol[:idx]
	}
	return symbol
}

// QuoteAsset returns the quote leg of a BASE-QUOTE instrument symbol.
func QuoteAsset(symbol string) string {
	if idx := strings.IndexByte(symbol, '-'); idx >= 0 && idx+1 < len(symbol) {
		return symbol[idx+1:]
	}
	return ""
}

// Side identifies the direction of an order, trade, or position.
type Side string

const (
	// SideBuy marks buy orders and long positions.
	SideBuy Side = "buy"
	// SideSell marks sell orders and short positions.
	SideSell Side = "sell"
)

// Opposite returns the inverse side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is recognised.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}
