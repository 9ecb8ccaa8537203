package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPrices() []float64 {
	return []float64{102, 105, 106, 108, 110, 111, 113, 114, 116, 118}
}

func TestMA(t *testing.T) {
	ma, err := MA(createTestPrices(), 5)
	assert.NoError(t, err)
	// Last 5: 111,113,114,116,118 => 572/5 = 114.4
	assert.InDelta(t, 114.4, ma, 0.001)

	_, err = MA(createTestPrices(), 0)
	assert.Error(t, err)
	_, err = MA(createTestPrices()[:2], 5)
	assert.Error(t, err)
}

func TestEMAFunc(t *testing.T) {
	ema, err := EMAFunc(createTestPrices(), 5)
	assert.NoError(t, err)
	assert.Greater(t, ema, 0.0)

	_, err = EMAFunc(nil, 3)
	assert.Error(t, err)
}

func TestConstructorValidation(t *testing.T) {
	_, err := NewSMA(0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = NewEMA(-1)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = NewRSI(0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = NewMACD(26, 12, 9)
	assert.Error(t, err)
	_, err = NewMACD(12, 26, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = NewBollinger(20, 0)
	assert.Error(t, err)
	_, err = NewBollinger(0, 2)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestIndicatorInterface(t *testing.T) {
	var _ Indicator = &SMA{}
	var _ Indicator = &EMA{}
	var _ Indicator = &RSI{}
	var _ Indicator = &MACD{}
	var _ Indicator = &Bollinger{}

	sma, _ := NewSMA(3)
	ema, _ := NewEMA(3)
	rsi, _ := NewRSI(3)
	macd, _ := NewMACD(2, 3, 2)
	bb, _ := NewBollinger(3, 2)

	for _, ind := range []Indicator{sma, ema, rsi, macd, bb} {
		assert.False(t, ind.Ready(), "indicator %s should not be ready initially", ind.Name())

		for i := 0; i < ind.Warmup()-1; i++ {
			ind.Update(100 + float64(i))
		}
		assert.False(t, ind.Ready(), "indicator %s ready before warmup", ind.Name())

		ind.Update(200)
		assert.True(t, ind.Ready(), "indicator %s should be ready after warmup", ind.Name())

		ind.Reset()
		assert.False(t, ind.Ready(), "indicator %s should not be ready after reset", ind.Name())
	}
}

func TestSuite(t *testing.T) {
	s, err := NewSuite(DefaultSuiteConfig())
	require.NoError(t, err)
	assert.Equal(t, 34, s.Warmup())

	var snap Snapshot
	for i := 0; i < s.Warmup()-1; i++ {
		snap = s.Update(100 + float64(i%5))
	}
	assert.False(t, s.Ready())
	assert.True(t, snap.SMA.Ready)
	assert.True(t, snap.RSI.Ready)
	assert.False(t, snap.MACD.Ready)

	snap = s.Update(101)
	assert.True(t, s.Ready())
	assert.True(t, snap.MACD.Ready)
	assert.True(t, snap.Bollinger.Ready)
	assert.Equal(t, 34, snap.Count)
	assert.Equal(t, 101.0, snap.Price)
	assert.LessOrEqual(t, snap.Bollinger.Lower, snap.Bollinger.Middle)
	assert.LessOrEqual(t, snap.Bollinger.Middle, snap.Bollinger.Upper)

	s.Reset()
	assert.False(t, s.Ready())
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestSuiteRejectsBadConfig(t *testing.T) {
	cfg := DefaultSuiteConfig()
	cfg.MACDFast = 30
	_, err := NewSuite(cfg)
	assert.Error(t, err)

	_, err = NewEngine(SuiteConfig{})
	assert.Error(t, err)
}

func TestEngine(t *testing.T) {
	e, err := NewEngine(SuiteConfig{
		SMAPeriod: 3, EMAPeriod: 3, RSIPeriod: 3,
		MACDFast: 2, MACDSlow: 3, MACDSignal: 2,
		BollingerPeriod: 3, BollingerK: 2,
	})
	require.NoError(t, err)

	_, ok := e.Snapshot("INFY")
	assert.False(t, ok)

	prices := []float64{10, 11, 12, 11, 13}
	var last Snapshot
	for _, p := range prices {
		last = e.Update("INFY", p)
	}
	e.Update("TCS", 3000)

	assert.Equal(t, []string{"INFY", "TCS"}, e.Symbols())
	assert.True(t, e.Ready("INFY"))
	assert.False(t, e.Ready("TCS"))
	assert.InDelta(t, 12.0, last.SMA.Value, 1e-9)

	got, ok := e.Snapshot("INFY")
	require.True(t, ok)
	assert.Equal(t, last, got)

	replayed := e.Replay("INFY", prices)
	assert.Equal(t, last, replayed)

	e.Reset("INFY")
	_, ok = e.Snapshot("INFY")
	assert.False(t, ok)
}
