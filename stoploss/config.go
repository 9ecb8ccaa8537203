// Package stoploss watches ticks for protected positions and liquidates
// them when their stop is breached.
package stoploss

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by a Store when a symbol has no config.
var ErrNotFound = errors.New("stoploss: config not found")

type Kind string

const (
	Fixed    Kind = "FIXED"
	Trailing Kind = "TRAILING"
)

// Config is the stop for one protected long position. It is deleted, never
// kept at zero quantity.
type Config struct {
	Symbol          string  `json:"symbol"`
	EntryPrice      float64 `json:"entry_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	Quantity        float64 `json:"quantity"`
	Kind            Kind    `json:"kind"`
	TrailingPercent float64 `json:"trailing_percent,omitempty"` // TRAILING only
	HighWaterMark   float64 `json:"high_water_mark,omitempty"`  // TRAILING only
	// HaltReason is set when a fatal execution error stopped automatic
	// liquidation. Cleared by Monitor.Resume or a new SetStopLoss.
	HaltReason string    `json:"halt_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !(c.EntryPrice > 0) {
		return fmt.Errorf("%s: entry price must be > 0", c.Symbol)
	}
	if !(c.Quantity > 0) {
		return fmt.Errorf("%s: quantity must be > 0", c.Symbol)
	}
	if !(c.StopLossPrice > 0) {
		return fmt.Errorf("%s: stop loss price must be > 0", c.Symbol)
	}

	switch c.Kind {
	case Fixed:
		if c.TrailingPercent != 0 || c.HighWaterMark != 0 {
			return fmt.Errorf("%s: fixed stop carries trailing fields", c.Symbol)
		}
	case Trailing:
		if !(c.TrailingPercent > 0 && c.TrailingPercent < 100) {
			return fmt.Errorf("%s: trailing percent must be within (0,100)", c.Symbol)
		}
		if c.StopLossPrice > c.HighWaterMark {
			return fmt.Errorf("%s: stop %.4f above high-water mark %.4f",
				c.Symbol, c.StopLossPrice, c.HighWaterMark)
		}
	default:
		return fmt.Errorf("%s: unknown stop kind %q", c.Symbol, c.Kind)
	}
	return nil
}

// Params create or replace a stop. Zero StopLossPrice means derive it from
// the default stop percent; zero Kind means FIXED.
type Params struct {
	EntryPrice      float64
	Quantity        float64
	StopLossPrice   float64
	Kind            Kind
	TrailingPercent float64
}

// Store persists configs, at most one per symbol.
type Store interface {
	All(ctx context.Context) ([]Config, error)
	Get(ctx context.Context, symbol string) (Config, error)
	Save(ctx context.Context, c Config) error
	// Delete is a no-op for unknown symbols.
	Delete(ctx context.Context, symbol string) error
}

// LimitsProvider supplies the default stop distance in percent.
type LimitsProvider interface {
	StopLossPercent() float64
}

// StaticPercent is a fixed LimitsProvider.
type StaticPercent float64

func (p StaticPercent) StopLossPercent() float64 { return float64(p) }
