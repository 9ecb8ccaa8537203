package indicators

import "fmt"

// SuiteConfig holds the parameters for every indicator in a Suite.
type SuiteConfig struct {
	SMAPeriod       int     `json:"sma_period" yaml:"sma_period"`
	EMAPeriod       int     `json:"ema_period" yaml:"ema_period"`
	RSIPeriod       int     `json:"rsi_period" yaml:"rsi_period"`
	MACDFast        int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow        int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal      int     `json:"macd_signal" yaml:"macd_signal"`
	BollingerPeriod int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerK      float64 `json:"bollinger_k" yaml:"bollinger_k"`
}

// DefaultSuiteConfig returns the conventional parameters.
func DefaultSuiteConfig() SuiteConfig {
	return SuiteConfig{
		SMAPeriod:       20,
		EMAPeriod:       20,
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerK:      2,
	}
}

// Reading is a single indicator value; Value is meaningless unless Ready.
type Reading struct {
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

type MACDReading struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Ready     bool    `json:"ready"`
}

type BandsReading struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	StdDev float64 `json:"std_dev"`
	Ready  bool    `json:"ready"`
}

// Snapshot is the value of every indicator in a Suite after an update.
type Snapshot struct {
	Price     float64      `json:"price"`
	Count     int          `json:"count"`
	SMA       Reading      `json:"sma"`
	EMA       Reading      `json:"ema"`
	RSI       Reading      `json:"rsi"`
	MACD      MACDReading  `json:"macd"`
	Bollinger BandsReading `json:"bollinger"`
}

// Suite bundles one instance of each indicator for a single symbol.
// A Suite is not safe for concurrent use; Engine serializes access.
type Suite struct {
	sma  *SMA
	ema  *EMA
	rsi  *RSI
	macd *MACD
	bb   *Bollinger

	last  float64
	count int
}

func NewSuite(cfg SuiteConfig) (*Suite, error) {
	sma, err := NewSMA(cfg.SMAPeriod)
	if err != nil {
		return nil, err
	}
	ema, err := NewEMA(cfg.EMAPeriod)
	if err != nil {
		return nil, err
	}
	rsi, err := NewRSI(cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	if err != nil {
		return nil, err
	}
	bb, err := NewBollinger(cfg.BollingerPeriod, cfg.BollingerK)
	if err != nil {
		return nil, err
	}
	return &Suite{sma: sma, ema: ema, rsi: rsi, macd: macd, bb: bb}, nil
}

func (s *Suite) indicators() []Indicator {
	return []Indicator{s.sma, s.ema, s.rsi, s.macd, s.bb}
}

// Update feeds price to every indicator and returns the resulting snapshot.
func (s *Suite) Update(price float64) Snapshot {
	for _, ind := range s.indicators() {
		ind.Update(price)
	}
	s.last = price
	s.count++
	return s.Snapshot()
}

func (s *Suite) Snapshot() Snapshot {
	return Snapshot{
		Price: s.last,
		Count: s.count,
		SMA:   Reading{Value: s.sma.Value(), Ready: s.sma.Ready()},
		EMA:   Reading{Value: s.ema.Value(), Ready: s.ema.Ready()},
		RSI:   Reading{Value: s.rsi.Value(), Ready: s.rsi.Ready()},
		MACD: MACDReading{
			MACD:      s.macd.Value(),
			Signal:    s.macd.Signal(),
			Histogram: s.macd.Histogram(),
			Ready:     s.macd.Ready(),
		},
		Bollinger: BandsReading{
			Upper:  s.bb.Upper(),
			Middle: s.bb.Middle(),
			Lower:  s.bb.Lower(),
			StdDev: s.bb.StdDev(),
			Ready:  s.bb.Ready(),
		},
	}
}

// Ready reports whether every indicator has finished warming up.
func (s *Suite) Ready() bool {
	for _, ind := range s.indicators() {
		if !ind.Ready() {
			return false
		}
	}
	return true
}

// Warmup is the number of prices after which Ready is guaranteed.
func (s *Suite) Warmup() int {
	w := 0
	for _, ind := range s.indicators() {
		w = max(w, ind.Warmup())
	}
	return w
}

func (s *Suite) Reset() {
	for _, ind := range s.indicators() {
		ind.Reset()
	}
	s.last = 0
	s.count = 0
}

func (s *Suite) String() string {
	names := ""
	for i, ind := range s.indicators() {
		if i > 0 {
			names += " "
		}
		names += ind.Name()
	}
	return fmt.Sprintf("Suite[%s]", names)
}
