package indicators

import (
	"errors"
	"fmt"
)

// MACD is the difference of a fast and a slow EMA, with an EMA of that
// difference as the signal line.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	macd float64
}

// NewMACD creates a MACD(fast, slow, signal). fast must be shorter than slow.
func NewMACD(fast, slow, signal int) (*MACD, error) {
	f, err := NewEMA(fast)
	if err != nil {
		return nil, fmt.Errorf("macd fast: %w", err)
	}
	s, err := NewEMA(slow)
	if err != nil {
		return nil, fmt.Errorf("macd slow: %w", err)
	}
	sig, err := NewEMA(signal)
	if err != nil {
		return nil, fmt.Errorf("macd signal: %w", err)
	}
	if fast >= slow {
		return nil, errors.New("macd: fast period must be shorter than slow period")
	}
	return &MACD{fast: f, slow: s, signal: sig}, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD(%d,%d,%d)", m.fast.period, m.slow.period, m.signal.period)
}

// Warmup is the slow period plus the signal period minus the shared first value.
func (m *MACD) Warmup() int {
	return m.slow.period + m.signal.period - 1
}

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.macd = 0
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.slow.Ready() {
		return
	}
	m.macd = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.macd)
}

func (m *MACD) Ready() bool {
	return m.slow.Ready() && m.signal.Ready()
}

// Value returns the MACD line.
func (m *MACD) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.macd
}

func (m *MACD) Signal() float64 {
	if !m.Ready() {
		return 0
	}
	return m.signal.Value()
}

func (m *MACD) Histogram() float64 {
	if !m.Ready() {
		return 0
	}
	return m.macd - m.signal.Value()
}
