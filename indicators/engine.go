package indicators

import (
	"sort"
	"sync"
)

// Engine keeps one Suite per symbol, created on the first observed price.
type Engine struct {
	mu     sync.Mutex
	cfg    SuiteConfig
	suites map[string]*Suite
}

// NewEngine validates cfg by building a throwaway Suite.
func NewEngine(cfg SuiteConfig) (*Engine, error) {
	if _, err := NewSuite(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, suites: make(map[string]*Suite)}, nil
}

func (e *Engine) suite(symbol string) *Suite {
	s, ok := e.suites[symbol]
	if !ok {
		// cfg was validated in NewEngine
		s, _ = NewSuite(e.cfg)
		e.suites[symbol] = s
	}
	return s
}

// Update feeds one price for symbol.
func (e *Engine) Update(symbol string, price float64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suite(symbol).Update(price)
}

// Replay resets symbol and rebuilds its state from prices.
func (e *Engine) Replay(symbol string, prices []float64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.suite(symbol)
	s.Reset()
	for _, p := range prices {
		s.Update(p)
	}
	return s.Snapshot()
}

// Snapshot returns the current values for symbol; ok is false if the
// symbol has never been observed.
func (e *Engine) Snapshot(symbol string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.suites[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (e *Engine) Ready(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.suites[symbol]
	return ok && s.Ready()
}

// Reset drops all state for symbol.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.suites, symbol)
}

func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.suites))
	for sym := range e.suites {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
