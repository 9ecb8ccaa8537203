package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/market"
)

// Limits are the process-wide risk limits. A single instance is persisted by
// a SettingsStore.
type Limits struct {
	MaxDailyLoss        float64 `json:"max_daily_loss" yaml:"max_daily_loss"`                 // account currency
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent"` // of capital, 0 disables
	MaxPositionSize     float64 `json:"max_position_size" yaml:"max_position_size"`           // notional per order
	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
	StopLossPercent     float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"` // default stop distance
	CircuitBroken       bool    `json:"circuit_broken" yaml:"circuit_broken"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:        5000,
		MaxDailyLossPercent: 2,
		MaxPositionSize:     100000,
		MaxOpenPositions:    10,
		StopLossPercent:     3,
	}
}

func (l Limits) Validate() error {
	if l.MaxDailyLoss < 0 {
		return errors.New("max_daily_loss must be >= 0")
	}
	if l.MaxDailyLossPercent < 0 || l.MaxDailyLossPercent > 100 {
		return errors.New("max_daily_loss_percent must be within [0,100]")
	}
	if l.MaxPositionSize < 0 {
		return errors.New("max_position_size must be >= 0")
	}
	if l.MaxOpenPositions < 0 {
		return errors.New("max_open_positions must be >= 0")
	}
	if l.StopLossPercent <= 0 || l.StopLossPercent >= 100 {
		return fmt.Errorf("stop_loss_percent %.2f must be within (0,100)", l.StopLossPercent)
	}
	return nil
}

// SettingsStore persists Limits and notifies listeners after every
// successful save. RiskLimits returns DefaultLimits when nothing is stored.
type SettingsStore interface {
	RiskLimits(ctx context.Context) (Limits, error)
	SaveRiskLimits(ctx context.Context, l Limits) error
	ResetToDefaults(ctx context.Context) error
	OnUpdate(fn func(Limits))
}

// OrderIntent is a prospective order presented for admission.
type OrderIntent struct {
	Symbol   string
	Side     market.Side
	Quantity float64
	Type     broker.OrderType
	Price    float64 // limit price, or a reference price for market orders
}

func (o OrderIntent) opensPosition() bool {
	return o.Side != market.Sell
}
