// Package audit records every risk-relevant event to a durable store,
// retrying writes that fail transiently.
package audit

import (
	"context"
	"fmt"
	"time"
)

// EventType is the closed set of audited events.
type EventType string

const (
	TradeExecuted           EventType = "TRADE_EXECUTED"
	TradeFailed             EventType = "TRADE_FAILED"
	StopLossCreated         EventType = "STOP_LOSS_CREATED"
	StopLossUpdated         EventType = "STOP_LOSS_UPDATED"
	StopLossTriggered       EventType = "STOP_LOSS_TRIGGERED"
	StopLossExecuted        EventType = "STOP_LOSS_EXECUTED"
	StopLossRemoved         EventType = "STOP_LOSS_REMOVED"
	SettingsChanged         EventType = "SETTINGS_CHANGED"
	CircuitBreakerTriggered EventType = "CIRCUIT_BREAKER_TRIGGERED"
	TradingStarted          EventType = "TRADING_STARTED"
	TradingStopped          EventType = "TRADING_STOPPED"
	PanicSell               EventType = "PANIC_SELL"
	Reconciliation          EventType = "RECONCILIATION"
	System                  EventType = "SYSTEM"
)

var eventCategories = map[EventType]Category{
	TradeExecuted:           CategoryTrading,
	TradeFailed:             CategoryTrading,
	StopLossCreated:         CategoryStopLoss,
	StopLossUpdated:         CategoryStopLoss,
	StopLossTriggered:       CategoryStopLoss,
	StopLossExecuted:        CategoryStopLoss,
	StopLossRemoved:         CategoryStopLoss,
	SettingsChanged:         CategorySettings,
	CircuitBreakerTriggered: CategoryRisk,
	TradingStarted:          CategorySystem,
	TradingStopped:          CategorySystem,
	PanicSell:               CategoryRisk,
	Reconciliation:          CategorySystem,
	System:                  CategorySystem,
}

// EventTypes lists every valid EventType.
func EventTypes() []EventType {
	return []EventType{
		TradeExecuted, TradeFailed,
		StopLossCreated, StopLossUpdated, StopLossTriggered, StopLossExecuted, StopLossRemoved,
		SettingsChanged, CircuitBreakerTriggered,
		TradingStarted, TradingStopped, PanicSell, Reconciliation, System,
	}
}

func (t EventType) Valid() bool {
	_, ok := eventCategories[t]
	return ok
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown audit event type %q", s)
	}
	return t, nil
}

type Category string

const (
	CategoryTrading  Category = "trading"
	CategoryStopLoss Category = "stop_loss"
	CategoryRisk     Category = "risk"
	CategorySettings Category = "settings"
	CategorySystem   Category = "system"
)

type Severity string

const (
	Info  Severity = "info"
	Warn  Severity = "warn"
	Error Severity = "error"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Category  Category       `json:"category"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  Severity       `json:"severity"`
}

// Filter selects entries. Zero fields match everything; results are
// newest first.
type Filter struct {
	From       time.Time
	To         time.Time
	EventTypes []EventType
	Category   Category
	Symbol     string
	Severity   Severity
	Limit      int
}

// Match reports whether e passes f. Stores without a query language use it.
func (f Filter) Match(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && f.Category != e.Category {
		return false
	}
	if f.Symbol != "" && f.Symbol != e.Symbol {
		return false
	}
	if f.Severity != "" && f.Severity != e.Severity {
		return false
	}
	return true
}

// Store is a durable append-only audit log.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	// Cleanup deletes entries older than olderThan and returns how many.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
