package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

// Position is an open stake in one market. It is immutable once opened and
// leaves the ledger only through a close.
type Position struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id,omitempty"`
	EventTitle     string          `json:"event_title,omitempty"`
	MarketQuestion string          `json:"market_question,omitempty"`
	Side           market.Side     `json:"side"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	SizeFraction   decimal.Decimal `json:"size_fraction"`
	Notional       decimal.Decimal `json:"notional"`
	Qty            decimal.Decimal `json:"qty"` // display only
	Commission     decimal.Decimal `json:"commission"`
	OpenedAt       time.Time       `json:"opened_at"`
}

// Document is the persisted ledger: one per ledger instance.
type Document struct {
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Positions      []Position      `json:"positions"`
	LastUpdated    time.Time       `json:"last_updated"`

	InitialBalance decimal.Decimal `json:"initial_balance"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	ClosedCount    int             `json:"closed_count"`
}

// NewDocument returns an empty ledger funded with balance.
func NewDocument(balance decimal.Decimal, now time.Time) Document {
	return Document{
		CurrentBalance: balance,
		Positions:      []Position{},
		LastUpdated:    now.UTC(),
		InitialBalance: balance,
	}
}

// Clone returns a deep copy; callers may mutate it freely.
func (d Document) Clone() Document {
	out := d
	out.Positions = make([]Position, len(d.Positions))
	copy(out.Positions, d.Positions)
	return out
}

// OpenNotional is the capital currently locked in open positions.
func (d Document) OpenNotional() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range d.Positions {
		sum = sum.Add(p.Notional)
	}
	return sum
}

// Find returns the index of the position with id, or -1.
func (d Document) Find(id string) int {
	for i, p := range d.Positions {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Remove drops the position at index i, keeping open order.
func (d *Document) Remove(i int) Position {
	p := d.Positions[i]
	d.Positions = append(d.Positions[:i], d.Positions[i+1:]...)
	return p
}

// Audit checks the conservation invariant:
//
//	balance + open notional + fees == initial + realized
func Audit(d Document) error {
	lhs := d.CurrentBalance.Add(d.OpenNotional()).Add(d.FeesPaid)
	rhs := d.InitialBalance.Add(d.RealizedPnL)
	if !lhs.Equal(rhs) {
		return fmt.Errorf("%w: balance %s + open %s + fees %s != initial %s + realized %s",
			ErrImbalance, d.CurrentBalance, d.OpenNotional(), d.FeesPaid, d.InitialBalance, d.RealizedPnL)
	}
	return nil
}

// validate rejects documents no ledger could have written.
func (d Document) validate() error {
	seen := make(map[string]bool, len(d.Positions))
	for _, p := range d.Positions {
		if p.ID == "" {
			return fmt.Errorf("position without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate position id %q", p.ID)
		}
		seen[p.ID] = true
		if !p.Side.Valid() {
			return fmt.Errorf("position %q: bad side %q", p.ID, p.Side)
		}
		if p.Notional.IsNegative() {
			return fmt.Errorf("position %q: negative notional", p.ID)
		}
	}
	return nil
}

// normalize fills audit fields missing from documents written before they
// existed, so the invariant holds from the first load onward.
func (d *Document) normalize() {
	if d.Positions == nil {
		d.Positions = []Position{}
	}
	if d.InitialBalance.IsZero() && d.RealizedPnL.IsZero() && d.FeesPaid.IsZero() {
		d.InitialBalance = d.CurrentBalance.Add(d.OpenNotional())
	}
}

// Documents written by older tooling use naive ISO-8601 timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func (p *Position) UnmarshalJSON(b []byte) error {
	type alias Position
	aux := struct {
		*alias
		OpenedAt string `json:"opened_at"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := parseTime(aux.OpenedAt)
	if err != nil {
		return fmt.Errorf("opened_at: %w", err)
	}
	p.OpenedAt = t
	return nil
}

func (d *Document) UnmarshalJSON(b []byte) error {
	type alias Document
	aux := struct {
		*alias
		LastUpdated string `json:"last_updated"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := parseTime(aux.LastUpdated)
	if err != nil {
		return fmt.Errorf("last_updated: %w", err)
	}
	d.LastUpdated = t
	return nil
}

// decode parses and validates a persisted document. Any failure is reported
// as ErrCorrupt.
func decode(b []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := d.validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	d.normalize()
	return d, nil
}

func encode(d Document) ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
