package indicators

import (
	"errors"
	"fmt"
	"math"
)

// Bollinger computes Bollinger Bands from a running sum and sum of squares
// over the same window as its middle SMA.
type Bollinger struct {
	period int
	k      float64

	win   *window
	sum   float64
	sumSq float64
}

func NewBollinger(period int, k float64) (*Bollinger, error) {
	if err := checkPeriod("Bollinger", period); err != nil {
		return nil, err
	}
	if k <= 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return nil, errors.New("bollinger: band multiplier must be a positive number")
	}
	return &Bollinger{period: period, k: k, win: newWindow(period)}, nil
}

func (b *Bollinger) Name() string {
	return fmt.Sprintf("BB(%d,%g)", b.period, b.k)
}

func (b *Bollinger) Warmup() int {
	return b.period
}

func (b *Bollinger) Reset() {
	b.win.reset()
	b.sum = 0
	b.sumSq = 0
}

func (b *Bollinger) Update(price float64) {
	evicted, full := b.win.push(price)
	b.sum += price
	b.sumSq += price * price
	if full {
		b.sum -= evicted
		b.sumSq -= evicted * evicted
	}
}

func (b *Bollinger) Ready() bool {
	return b.win.full()
}

func (b *Bollinger) Middle() float64 {
	if !b.Ready() {
		return 0
	}
	return b.sum / float64(b.period)
}

// StdDev is the population standard deviation of the window.
func (b *Bollinger) StdDev() float64 {
	if !b.Ready() {
		return 0
	}
	n := float64(b.period)
	mean := b.sum / n
	variance := b.sumSq/n - mean*mean
	// cancellation can push a flat window slightly negative
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func (b *Bollinger) Upper() float64 {
	return b.Middle() + b.k*b.StdDev()
}

func (b *Bollinger) Lower() float64 {
	return b.Middle() - b.k*b.StdDev()
}
