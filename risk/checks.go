package risk

import (
	"fmt"

	"github.com/rustyeddy/riskguard/broker"
)

// Decision codes.
const (
	CodeAllowed          = "ALLOWED"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
	CodeInvalidPrice     = "INVALID_PRICE"
	CodeCircuitOpen      = "CIRCUIT_BREAKER_OPEN"
	CodeDailyLoss        = "DAILY_LOSS_LIMIT"
	CodeTooManyPositions = "TOO_MANY_OPEN_POSITIONS"
	CodePositionSize     = "POSITION_SIZE_LIMIT"
)

// Decision is the outcome of an admission check. Rejections are values,
// not errors.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true, Code: CodeAllowed}
}

func reject(code, format string, args ...any) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// checkInput is everything evaluate needs, captured under the manager lock.
type checkInput struct {
	intent        OrderIntent
	unrealized    float64
	openPositions int

	limits     Limits
	state      State
	tripReason string
	realized   float64
	lossLimit  float64
}

// evaluate runs the admission checks in order; the first failure wins.
// tripped reports that check (d) found the daily loss limit breached.
func evaluate(in checkInput) (d Decision, tripped bool) {
	o := in.intent

	if !(o.Quantity > 0) {
		return reject(CodeInvalidQuantity, "quantity must be > 0, got %v", o.Quantity), false
	}
	if o.Type == broker.Limit && !(o.Price > 0) {
		return reject(CodeInvalidPrice, "limit order needs a positive price, got %v", o.Price), false
	}
	if in.state == Open {
		return reject(CodeCircuitOpen, "circuit breaker is open: %s", in.tripReason), false
	}

	pnl := in.realized + in.unrealized
	if breached(pnl, in.lossLimit) {
		return reject(CodeDailyLoss, "daily P&L %.2f breaches loss limit %.2f", pnl, in.lossLimit), true
	}

	if o.opensPosition() && in.limits.MaxOpenPositions > 0 && in.openPositions >= in.limits.MaxOpenPositions {
		return reject(CodeTooManyPositions, "open positions %d >= max %d",
			in.openPositions, in.limits.MaxOpenPositions), false
	}

	if o.Price > 0 && in.limits.MaxPositionSize > 0 {
		if n := Notional(o.Quantity, o.Price); n > in.limits.MaxPositionSize {
			return reject(CodePositionSize, "order notional %.2f exceeds max position size %.2f",
				n, in.limits.MaxPositionSize), false
		}
	}

	return allow(), false
}
