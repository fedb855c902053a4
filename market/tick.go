package market

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("price not found")

// Tick is the latest observed probability for a single market.
type Tick struct {
	MarketID string
	Price    decimal.Decimal
	Time     time.Time
}

// TickStore keeps the most recent tick per market. It is safe for concurrent
// use by a poller writing and monitors reading.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.MarketID] = t
}

func (ts *TickStore) Get(marketID string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[marketID]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}

// Len returns the number of markets with a known price.
func (ts *TickStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.ticks)
}
