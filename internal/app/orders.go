package app

import (
	"context"
	"fmt"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/risk"
)

// SubmitOrder gates o through the risk manager and, when allowed, places
// it with the executor. A rejection is returned as a Decision, not an
// error. Fills reach the stop-loss monitor through the venue's callback.
func (a *App) SubmitOrder(ctx context.Context, o risk.OrderIntent) (broker.Execution, risk.Decision, error) {
	unrealized, open, err := a.Exposure(ctx)
	if err != nil {
		return broker.Execution{}, risk.Decision{}, err
	}

	d := a.Risk.CheckOrderAllowed(ctx, o, unrealized, open)
	if !d.Allowed {
		a.Bus.Publish(events.Event{
			Type:    events.TradeFailed,
			Symbol:  o.Symbol,
			Message: "order rejected: " + d.Reason,
			Data: map[string]any{
				"code":     d.Code,
				"side":     string(o.Side),
				"quantity": o.Quantity,
				"price":    o.Price,
			},
		})
		return broker.Execution{}, d, nil
	}

	typ := o.Type
	if typ == "" {
		typ = broker.Market
	}
	exec, err := a.Executor.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: o.Quantity,
		Type:     typ,
		Price:    o.Price,
		Tag:      broker.NewTag("RG", o.Symbol),
	})
	if err != nil {
		a.log.Error().Err(err).Str("symbol", o.Symbol).Msg("place order")
		a.Bus.Publish(events.Event{
			Type:    events.TradeFailed,
			Symbol:  o.Symbol,
			Message: fmt.Sprintf("order failed: %v", err),
			Data: map[string]any{
				"side":     string(o.Side),
				"quantity": o.Quantity,
				"fatal":    broker.IsFatal(err),
			},
		})
		return broker.Execution{}, d, fmt.Errorf("place order %s: %w", o.Symbol, err)
	}
	return exec, d, nil
}
