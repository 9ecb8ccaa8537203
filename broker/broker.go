package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/riskguard/market"
)

// Executor places orders with an execution venue. Implementations may block
// for as long as the venue takes; timeouts are theirs to enforce.
type Executor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Execution, error)
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

var (
	// ErrAuth marks credential/session failures that retrying cannot fix.
	ErrAuth = errors.New("broker: authentication failed")
	// ErrFatal marks any other failure that must be surfaced, not retried.
	ErrFatal = errors.New("broker: fatal execution error")
	// ErrUnavailable means the order never reached the venue because the
	// execution guard is open. It is retryable.
	ErrUnavailable = errors.New("broker: execution guard open")

	ErrInvalidOrder = errors.New("broker: invalid order")
)

// IsFatal reports whether err should stop automatic retries.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrFatal)
}

type OrderRequest struct {
	Symbol   string
	Side     market.Side
	Quantity float64
	Type     OrderType
	Price    float64 // LIMIT only
	Tag      string
}

func (r OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case r.Side != market.Buy && r.Side != market.Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case r.Type == Limit && r.Price <= 0:
		return fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
	case r.Type != Market && r.Type != Limit:
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, r.Type)
	}
	return nil
}

// Execution is a filled order.
type Execution struct {
	OrderID    string
	Symbol     string
	Side       market.Side
	Quantity   float64
	Price      float64
	Tag        string
	ExecutedAt time.Time
}

func (e Execution) Confirmation() market.TradeConfirmation {
	return market.TradeConfirmation{
		ID:         e.OrderID,
		Symbol:     e.Symbol,
		Side:       e.Side,
		Quantity:   e.Quantity,
		Price:      e.Price,
		ExecutedAt: e.ExecutedAt,
		Tag:        e.Tag,
	}
}

// NewTag returns a unique order tag such as "SL-INFY-1b4e28ba".
func NewTag(prefix, symbol string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, symbol, uuid.NewString()[:8])
}
