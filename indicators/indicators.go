// Package indicators provides streaming technical analysis indicators.
//
// Every indicator consumes one price per Update in O(1) time and keeps at
// most O(period) state, so values never require a replay of history.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInvalidPeriod is returned by constructors given a non-positive period.
var ErrInvalidPeriod = errors.New("period must be positive")

// Indicator computes a single streaming statistic from prices.
// It is deterministic and safe to use in live and replayed streams.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next price.
	Update(price float64)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool
}

// ValueF64 is implemented by single-valued indicators.
type ValueF64 interface {
	// Value returns the current indicator value. If !Ready() it returns 0;
	// callers should always check Ready().
	Value() float64
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s: %w, got %d", name, ErrInvalidPeriod, period)
	}
	return nil
}
