// Package events carries risk notifications between services.
package events

import (
	"sync"
	"time"
)

// Type identifies a notification.
type Type string

const (
	StopLossCreated   Type = "STOP_LOSS_CREATED"
	StopLossUpdated   Type = "STOP_LOSS_UPDATED"
	StopLossTriggered Type = "STOP_LOSS_TRIGGERED"
	StopLossExecuted  Type = "STOP_LOSS_EXECUTED"
	StopLossFailed    Type = "STOP_LOSS_FAILED"
	StopLossRemoved   Type = "STOP_LOSS_REMOVED"

	CircuitBreakerTriggered Type = "CIRCUIT_BREAKER_TRIGGERED"
	CircuitBreakerReset     Type = "CIRCUIT_BREAKER_RESET"
	SettingsChanged         Type = "SETTINGS_CHANGED"

	TradeExecuted  Type = "TRADE_EXECUTED"
	TradeFailed    Type = "TRADE_FAILED"
	TradingStarted Type = "TRADING_STARTED"
	TradingStopped Type = "TRADING_STOPPED"
	PanicSell      Type = "PANIC_SELL"
	Reconciliation Type = "RECONCILIATION"
	System         Type = "SYSTEM"
)

// Event is a single notification.
type Event struct {
	Type      Type           `json:"type"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

// Publisher is implemented by Bus and consumed by services that emit events.
type Publisher interface {
	Publish(Event)
}

// Bus is a synchronous in-process publish/subscribe hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	allSubs     []Handler
	now         func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Type][]Handler),
		now:         time.Now,
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, h)
}

// Publish delivers e to type subscribers, then to catch-all subscribers,
// in registration order.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[e.Type])+len(b.allSubs))
	handlers = append(handlers, b.subscribers[e.Type]...)
	handlers = append(handlers, b.allSubs...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder keeps every published event; it is meant for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
