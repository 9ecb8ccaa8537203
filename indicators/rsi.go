package indicators

import "fmt"

// RSI is Wilder's Relative Strength Index.
//
// The first Period price changes seed the average gain and loss with simple
// means; later changes are folded in with Wilder smoothing:
//
//	avg = (avg*(period-1) + current) / period
type RSI struct {
	period int

	prev     float64
	havePrev bool

	changes int
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) (*RSI, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	return &RSI{period: period}, nil
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d)", r.period)
}

// Warmup is period+1 because the first price only seeds the previous close.
func (r *RSI) Warmup() int {
	return r.period + 1
}

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func (r *RSI) Update(price float64) {
	if !r.havePrev {
		r.prev = price
		r.havePrev = true
		return
	}

	change := price - r.prev
	r.prev = price

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	p := float64(r.period)
	if r.changes < r.period {
		// accumulate raw sums, then convert to means on the last seed sample
		r.avgGain += gain
		r.avgLoss += loss
		r.changes++
		if r.changes == r.period {
			r.avgGain /= p
			r.avgLoss /= p
		}
		return
	}

	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

func (r *RSI) Ready() bool {
	return r.changes >= r.period
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}
