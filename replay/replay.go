// Package replay drives the portfolio engine from a recorded CSV of market
// prices, with optional scripted events.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/shopspring/decimal"
)

// Clock reports the time of the row being replayed. Pass Now to
// portfolio.WithClock so positions carry replay timestamps.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t.IsZero() {
		return time.Now()
	}
	return c.t
}

func (c *Clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Options controls how replay behaves.
type Options struct {
	// If true: record the tick and evaluate thresholds first, then run the
	// event. OPEN then fills at the row's price after older positions had
	// their chance to exit.
	TickThenEvent bool

	Clock *Clock // optional
}

// Result counts what a replay did.
type Result struct {
	Rows   int
	Opened int
	Skips  int
	Closed []portfolio.Closed
}

// CSV replays ticks from a CSV file and applies optional scripted events.
//
// CSV formats supported:
//
//  1. Basic ticks:
//     time,market_id,price
//
//  2. Ticks + events:
//     time,market_id,price,event,arg1,arg2
//
// Events (case-insensitive):
//
//	OPEN:        arg1=side (BUY|SELL)  arg2=size fraction; fills at the row price
//	CLOSE_ALL:   arg1=reason (optional)
//	CLOSE:       arg1=position id      arg2=reason (optional); exits at the
//	             last price of the position's market, entry if none yet
//
// Every row updates the market's last price and checks open positions
// against take-profit and stop-loss.
func CSV(ctx context.Context, csvPath string, engine *portfolio.Engine, opts Options) (Result, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return Read(ctx, f, engine, opts)
}

// Read is CSV over any reader.
func Read(ctx context.Context, rd io.Reader, engine *portfolio.Engine, opts Options) (Result, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	rp := &replayer{engine: engine, opts: opts, ticks: market.NewTickStore()}

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return rp.res, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rp.res, nil
		}
		if err != nil {
			return rp.res, err
		}
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if err := rp.row(ctx, row); err != nil {
			return rp.res, fmt.Errorf("row %d: %w", line, err)
		}
	}
}

type replayer struct {
	engine *portfolio.Engine
	opts   Options
	ticks  *market.TickStore
	res    Result
}

// prices observes the last replayed price of each position's market; a
// market that has not traded yet is held at entry.
func (rp *replayer) prices() portfolio.PriceSource {
	return portfolio.PriceFunc(func(_ context.Context, p ledger.Position) (decimal.Decimal, error) {
		t, err := rp.ticks.Get(p.MarketID)
		if err != nil {
			return p.EntryPrice, nil
		}
		return t.Price, nil
	})
}

func (rp *replayer) row(ctx context.Context, row []string) error {
	// Minimum tick columns: time,market_id,price
	if len(row) < 3 {
		return fmt.Errorf("bad row (need at least 3 cols time,market_id,price): %v", row)
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	tick := market.Tick{Time: t, MarketID: strings.TrimSpace(row[1])}
	if tick.Price, err = decimal.NewFromString(strings.TrimSpace(row[2])); err != nil {
		return fmt.Errorf("bad price %q: %w", row[2], err)
	}
	rp.res.Rows++
	if rp.opts.Clock != nil {
		rp.opts.Clock.set(t)
	}

	// Optional event columns: event,arg1,arg2...
	event := ""
	var args []string
	if len(row) >= 4 {
		event = strings.TrimSpace(row[3])
	}
	if len(row) >= 5 {
		args = row[4:]
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	if rp.opts.TickThenEvent {
		if err := rp.tick(ctx, tick); err != nil {
			return err
		}
		if event != "" {
			return rp.event(ctx, tick, event, args)
		}
		return nil
	}

	// Event first, then tick
	if event != "" {
		if err := rp.event(ctx, tick, event, args); err != nil {
			return err
		}
	}
	return rp.tick(ctx, tick)
}

func (rp *replayer) tick(ctx context.Context, t market.Tick) error {
	rp.ticks.Set(t)
	closed, err := rp.engine.Tick(ctx, rp.prices())
	rp.res.Closed = append(rp.res.Closed, closed...)
	return err
}

func (rp *replayer) event(ctx context.Context, t market.Tick, event string, args []string) error {
	switch strings.ToUpper(event) {
	case "OPEN":
		// OPEN,BUY,0.1
		in, err := parseOpenArgs(args)
		if err != nil {
			return fmt.Errorf("OPEN: %w", err)
		}
		in.MarketID = t.MarketID
		in.Price = t.Price
		res, err := rp.engine.Open(ctx, in)
		if err != nil {
			return err
		}
		if res.Opened {
			rp.res.Opened++
		} else {
			rp.res.Skips++
		}
		return nil

	case "CLOSE_ALL":
		// CLOSE_ALL,Reason
		reason := portfolio.ReasonCloseAll
		if len(args) >= 1 && args[0] != "" {
			reason = portfolio.Reason(args[0])
		}
		rp.ticks.Set(t)
		closed, err := rp.engine.CloseAll(ctx, rp.prices(), reason)
		rp.res.Closed = append(rp.res.Closed, closed...)
		return err

	case "CLOSE":
		// CLOSE,<positionID>,<reason>
		if len(args) < 1 || args[0] == "" {
			return fmt.Errorf("missing position id")
		}
		reason := portfolio.ReasonManual
		if len(args) >= 2 && args[1] != "" {
			reason = portfolio.Reason(args[1])
		}
		rp.ticks.Set(t)
		exit, err := rp.exitPrice(ctx, args[0])
		if err != nil {
			return err
		}
		c, ok, err := rp.engine.Close(ctx, args[0], exit, reason)
		if ok {
			rp.res.Closed = append(rp.res.Closed, c)
		}
		return err

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

// exitPrice is the last replayed price of the position's own market, not
// of the row carrying the event. A position that is not open gets zero;
// Close ignores it anyway.
func (rp *replayer) exitPrice(ctx context.Context, positionID string) (decimal.Decimal, error) {
	positions, err := rp.engine.Ledger().Positions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range positions {
		if p.ID == positionID {
			return rp.prices().Price(ctx, p)
		}
	}
	return decimal.Zero, nil
}

func parseOpenArgs(args []string) (portfolio.Intent, error) {
	if len(args) < 2 {
		return portfolio.Intent{}, fmt.Errorf("need arg1=side arg2=size")
	}
	side := market.ParseSide(args[0])
	if !side.Valid() {
		return portfolio.Intent{}, fmt.Errorf("bad side %q", args[0])
	}
	size, err := decimal.NewFromString(args[1])
	if err != nil {
		return portfolio.Intent{}, fmt.Errorf("bad size %q: %w", args[1], err)
	}
	if !size.IsPositive() {
		return portfolio.Intent{}, fmt.Errorf("size must be positive")
	}
	return portfolio.Intent{Side: side, SizeFraction: size}, nil
}
