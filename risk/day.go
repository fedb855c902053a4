package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DayStats is the running tally for one trading day.
type DayStats struct {
	Open   time.Time       `json:"open"` // local midnight the day started at
	Trades int             `json:"trades"`
	Wins   int             `json:"wins"`
	Losses int             `json:"losses"`
	PnL    decimal.Decimal `json:"pnl"`
}

// DayTracker counts opens and realized PnL per calendar day in Location and
// rolls over at local midnight.
type DayTracker struct {
	mu  sync.Mutex
	loc *time.Location
	cur DayStats
}

func NewDayTracker(loc *time.Location) *DayTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &DayTracker{loc: loc}
}

// TodayOpen returns local midnight for now.
func TodayOpen(loc *time.Location, now time.Time) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (t *DayTracker) rollLocked(now time.Time) {
	open := TodayOpen(t.loc, now)
	if !t.cur.Open.Equal(open) {
		t.cur = DayStats{Open: open}
	}
}

func (t *DayTracker) RecordOpen(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(now)
	t.cur.Trades++
}

func (t *DayTracker) RecordClose(now time.Time, pnl decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(now)
	t.cur.PnL = t.cur.PnL.Add(pnl)
	switch {
	case pnl.IsPositive():
		t.cur.Wins++
	case pnl.IsNegative():
		t.cur.Losses++
	}
}

// Today returns the stats for the day containing now.
func (t *DayTracker) Today(now time.Time) DayStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(now)
	return t.cur
}
