package market

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// TradeConfirmation is emitted by the execution venue once an order fills.
type TradeConfirmation struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	ExecutedAt time.Time
	// Tag is the order tag the fill belongs to, when the venue reports it.
	Tag string
}

// Notional is quantity times fill price.
func (c TradeConfirmation) Notional() float64 {
	return c.Quantity * c.Price
}
