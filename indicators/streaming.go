package indicators

import (
	"fmt"
)

// SMA is a streaming Simple Moving Average over the last Period prices.
type SMA struct {
	period int
	win    *window
	sum    float64
}

// NewSMA creates a new Simple Moving Average indicator with the given period.
func NewSMA(period int) (*SMA, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	return &SMA{period: period, win: newWindow(period)}, nil
}

func (m *SMA) Name() string {
	return fmt.Sprintf("SMA(%d)", m.period)
}

func (m *SMA) Warmup() int {
	return m.period
}

func (m *SMA) Reset() {
	m.win.reset()
	m.sum = 0
}

func (m *SMA) Update(price float64) {
	evicted, full := m.win.push(price)
	m.sum += price
	if full {
		m.sum -= evicted
	}
}

func (m *SMA) Ready() bool {
	return m.win.full()
}

func (m *SMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// EMA is a streaming Exponential Moving Average indicator.
// The first value is the arithmetic mean of the first Period prices.
type EMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates a new Exponential Moving Average indicator with the given period.
func NewEMA(period int) (*EMA, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}, nil
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *EMA) Warmup() int {
	return e.period
}

func (e *EMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *EMA) Update(price float64) {
	if e.count < e.period {
		// During warmup, accumulate sum for initial SMA
		e.warmupSum += price
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (price-e.ema)*e.multiplier + e.ema
}

func (e *EMA) Ready() bool {
	return e.count >= e.period
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
