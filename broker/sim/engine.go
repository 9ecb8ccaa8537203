// Package sim is a paper execution venue that fills orders against the
// last observed tick.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/market"
)

type Engine struct {
	mu        sync.Mutex
	ticks     *market.TickStore
	fills     []broker.Execution
	positions map[string]float64
	nextID    int
	failures  []error
	handlers  []func(market.TradeConfirmation)
	now       func() time.Time
}

func NewEngine(ticks *market.TickStore) *Engine {
	if ticks == nil {
		ticks = market.NewTickStore()
	}
	return &Engine{
		ticks:     ticks,
		positions: make(map[string]float64),
		now:       time.Now,
	}
}

func (e *Engine) Prices() *market.TickStore {
	return e.ticks
}

// OnFill registers h to receive a confirmation for every fill.
func (e *Engine) OnFill(h func(market.TradeConfirmation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// FailNext makes the next PlaceOrder call return err. Calls queue.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, err)
}

func (e *Engine) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Execution, error) {
	if err := req.Validate(); err != nil {
		return broker.Execution{}, err
	}
	if err := ctx.Err(); err != nil {
		return broker.Execution{}, err
	}

	e.mu.Lock()
	if len(e.failures) > 0 {
		err := e.failures[0]
		e.failures = e.failures[1:]
		e.mu.Unlock()
		return broker.Execution{}, err
	}

	fillPrice := req.Price
	if req.Type == broker.Market {
		t, err := e.ticks.Get(req.Symbol)
		if err != nil {
			e.mu.Unlock()
			return broker.Execution{}, fmt.Errorf("place order %s: %w", req.Symbol, err)
		}
		fillPrice = t.Price
	}

	e.nextID++
	exec := broker.Execution{
		OrderID:    fmt.Sprintf("SIM-%06d", e.nextID),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      fillPrice,
		Tag:        req.Tag,
		ExecutedAt: e.now(),
	}
	e.fills = append(e.fills, exec)
	if req.Side == market.Buy {
		e.positions[req.Symbol] += req.Quantity
	} else {
		e.positions[req.Symbol] -= req.Quantity
	}
	if e.positions[req.Symbol] == 0 {
		delete(e.positions, req.Symbol)
	}
	handlers := append([]func(market.TradeConfirmation){}, e.handlers...)
	e.mu.Unlock()

	for _, h := range handlers {
		h(exec.Confirmation())
	}
	return exec, nil
}

// Fills returns every execution in order.
func (e *Engine) Fills() []broker.Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.Execution(nil), e.fills...)
}

// Positions returns the net quantity per symbol.
func (e *Engine) Positions() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.positions))
	for k, v := range e.positions {
		out[k] = v
	}
	return out
}
