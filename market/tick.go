package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoPrice is returned when no tick has been observed for a symbol.
var ErrNoPrice = errors.New("price not found")

// TickSource yields the most recent tick for a symbol.
type TickSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

// Tick is one market price observation.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

// TickStore caches the last tick seen per symbol.
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
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}

// GetTick implements TickSource.
func (ts *TickStore) GetTick(_ context.Context, symbol string) (Tick, error) {
	return ts.Get(symbol)
}

// Last returns the last price for symbol and whether one is known.
func (ts *TickStore) Last(symbol string) (float64, bool) {
	t, err := ts.Get(symbol)
	if err != nil {
		return 0, false
	}
	return t.Price, true
}
