// Package backtest replays historical market data through the engine state,
// a strategy, and a risk gate, producing trading summaries.
package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/replay/internal/schema"
)

// Event is one item of the replay input stream: either a market event or a
// pre-recorded account event.
type Event struct {
	Market  *schema.MarketEvent
	Account *schema.AccountEvent
}

// Time returns the exchange timestamp of the wrapped event.
func (e Event) Time() time.Time {
	if e.Market != nil {
		return e.Market.TimeExchange
	}
	if e.Account != nil {
		return e.Account.TimeExchange
	}
	return time.Time{}
}

// MarketEvent wraps a market event for feeding.
func MarketEvent(event schema.MarketEvent) Event {
	return Event{Market: &event}
}

// AccountEvent wraps an account event for feeding.
func AccountEvent(event schema.AccountEvent) Event {
	return Event{Account: &event}
}

// DataFeeder supplies the ordered, finite event stream of a run. Next
// returns io.EOF once the stream is exhausted.
type DataFeeder interface {
	Next() (Event, error)
}

// MemoryFeeder replays an in-memory slice of events. The same slice can back
// any number of feeders, one per run.
type MemoryFeeder struct {
	events []Event
	next   int
}

func NewMemoryFeeder(events []Event) *MemoryFeeder {
	return &MemoryFeeder{events: events}
}

func (f *MemoryFeeder) Next() (Event, error) {
	if f.next >= len(f.events) {
		return Event{}, io.EOF
	}
	event := f.events[f.next]
	f.next++
	return event, nil
}

// CSVFeeder reads historical trades from a CSV file with columns
// timestamp_ns, price, quantity, side, instrument.
type CSVFeeder struct {
	reader   *csv.Reader
	file     *os.File
	exchange schema.ExchangeID
}

// NewCSVFeeder opens the file and consumes the header row.
func NewCSVFeeder(path string, exchange schema.ExchangeID) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return &CSVFeeder{reader: reader, file: file, exchange: exchange}, nil
}

// Next returns the next trade event from the file.
func (f *CSVFeeder) Next() (Event, error) {
	record, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.file.Close()
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("read csv record: %w", err)
	}
	if len(record) < 5 {
		return Event{}, fmt.Errorf("csv record needs 5 columns, got %d", len(record))
	}
	timestamp, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("parse timestamp: %w", err)
	}
	price, err := decimal.NewFromString(record[1])
	if err != nil {
		return Event{}, fmt.Errorf("parse price: %w", err)
	}
	quantity, err := decimal.NewFromString(record[2])
	if err != nil {
		return Event{}, fmt.Errorf("parse quantity: %w", err)
	}
	side := schema.Side(strings.ToLower(strings.TrimSpace(record[3])))
	if !side.Valid() {
		side = schema.SideBuy
	}
	return MarketEvent(schema.MarketEvent{
		TimeExchange: time.Unix(0, timestamp).UTC(),
		Exchange:     f.exchange,
		Instrument:   strings.TrimSpace(record[4]),
		Kind:         schema.Trade{Price: price, Quantity: quantity, Side: side},
	}), nil
}
