package stoploss

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/market"
)

func (m *Monitor) defaultPercent() float64 {
	return m.limits.StopLossPercent()
}

// SetStopLoss creates or replaces the stop for symbol and clears any halt.
func (m *Monitor) SetStopLoss(ctx context.Context, symbol string, p Params) (Config, error) {
	if p.Kind == "" {
		p.Kind = Fixed
	}
	if !(p.EntryPrice > 0) {
		return Config{}, fmt.Errorf("%s: entry price must be > 0", symbol)
	}

	stop := p.StopLossPrice
	if stop == 0 {
		stop = stopBelow(p.EntryPrice, m.defaultPercent(), m.places)
	}
	cfg := Config{
		Symbol:        symbol,
		EntryPrice:    roundPrice(p.EntryPrice, m.places),
		StopLossPrice: roundPrice(stop, m.places),
		Quantity:      p.Quantity,
		Kind:          p.Kind,
	}
	if p.Kind == Trailing {
		cfg.TrailingPercent = p.TrailingPercent
		cfg.HighWaterMark = cfg.EntryPrice
	}

	unlock := m.locks.lock(symbol)
	defer unlock()

	existing, err := m.store.Get(ctx, symbol)
	switch {
	case err == nil:
		cfg.CreatedAt = existing.CreatedAt
		if cfg.Kind == Trailing && existing.Kind == Trailing && existing.HighWaterMark > cfg.HighWaterMark {
			cfg.HighWaterMark = existing.HighWaterMark
		}
	case errors.Is(err, ErrNotFound):
		cfg.CreatedAt = m.now()
	default:
		return Config{}, fmt.Errorf("load stop loss %s: %w", symbol, err)
	}
	cfg.UpdatedAt = m.now()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := m.store.Save(ctx, cfg); err != nil {
		return Config{}, fmt.Errorf("save stop loss %s: %w", symbol, err)
	}
	m.unhalt(symbol)
	m.refreshGauge(ctx)

	typ := events.StopLossCreated
	if existing.Symbol != "" {
		typ = events.StopLossUpdated
	}
	m.log.Info().
		Str("symbol", symbol).
		Str("kind", string(cfg.Kind)).
		Float64("entry", cfg.EntryPrice).
		Float64("stop", cfg.StopLossPrice).
		Float64("quantity", cfg.Quantity).
		Msg("stop loss set")
	m.events.Publish(events.Event{
		Type:    typ,
		Symbol:  symbol,
		Message: fmt.Sprintf("%s stop at %.2f", cfg.Kind, cfg.StopLossPrice),
		Data:    configData(cfg, "manual"),
	})
	return cfg, nil
}

// RemoveStopLoss deletes the stop for symbol.
func (m *Monitor) RemoveStopLoss(ctx context.Context, symbol string) error {
	unlock := m.locks.lock(symbol)
	defer unlock()

	cfg, err := m.store.Get(ctx, symbol)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, symbol); err != nil {
		return fmt.Errorf("delete stop loss %s: %w", symbol, err)
	}
	m.refreshGauge(ctx)
	m.publishRemoved(cfg, "manual")
	return nil
}

func (m *Monitor) publishRemoved(cfg Config, reason string) {
	m.log.Info().Str("symbol", cfg.Symbol).Str("reason", reason).Msg("stop loss removed")
	m.events.Publish(events.Event{
		Type:    events.StopLossRemoved,
		Symbol:  cfg.Symbol,
		Message: "stop loss removed: " + reason,
		Data:    configData(cfg, reason),
	})
}

func configData(c Config, reason string) map[string]any {
	d := map[string]any{
		"entry_price": c.EntryPrice,
		"stop":        c.StopLossPrice,
		"quantity":    c.Quantity,
		"kind":        string(c.Kind),
		"reason":      reason,
	}
	if c.Kind == Trailing {
		d["trailing_percent"] = c.TrailingPercent
		d["high_water_mark"] = c.HighWaterMark
	}
	return d
}

// HandleConfirmation queues c behind earlier confirmations for the same
// symbol. It does not block.
func (m *Monitor) HandleConfirmation(ctx context.Context, c market.TradeConfirmation) {
	ctx = context.WithoutCancel(ctx)
	m.queue.enqueue(c.Symbol, func() {
		if err := m.applyConfirmation(ctx, c); err != nil {
			m.log.Error().Err(err).
				Str("symbol", c.Symbol).
				Str("trade_id", c.ID).
				Str("side", string(c.Side)).
				Msg("apply trade confirmation")
		}
	})
}

func (m *Monitor) applyConfirmation(ctx context.Context, c market.TradeConfirmation) error {
	if !(c.Quantity > 0) || !(c.Price > 0) {
		return fmt.Errorf("confirmation %s: quantity and price must be > 0", c.ID)
	}

	unlock := m.locks.lock(c.Symbol)
	defer unlock()

	cfg, err := m.store.Get(ctx, c.Symbol)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load stop loss: %w", err)
	}

	if c.Side == market.Sell && strings.HasPrefix(c.Tag, liquidationTag+"-") {
		// the monitor's own liquidation, already applied when it executed
		return nil
	}

	switch c.Side {
	case market.Buy:
		if !exists {
			return m.createFromFill(ctx, c)
		}
		return m.addToPosition(ctx, cfg, c)
	case market.Sell:
		if !exists {
			return nil
		}
		return m.reducePosition(ctx, cfg, c)
	}
	return fmt.Errorf("confirmation %s: unknown side %q", c.ID, c.Side)
}

func (m *Monitor) createFromFill(ctx context.Context, c market.TradeConfirmation) error {
	now := m.now()
	cfg := Config{
		Symbol:        c.Symbol,
		EntryPrice:    roundPrice(c.Price, m.places),
		StopLossPrice: stopBelow(c.Price, m.defaultPercent(), m.places),
		Quantity:      c.Quantity,
		Kind:          Fixed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save stop loss: %w", err)
	}
	m.refreshGauge(ctx)

	m.log.Info().Str("symbol", c.Symbol).Float64("stop", cfg.StopLossPrice).Msg("stop loss created from fill")
	m.events.Publish(events.Event{
		Type:    events.StopLossCreated,
		Symbol:  c.Symbol,
		Message: fmt.Sprintf("auto stop at %.2f", cfg.StopLossPrice),
		Data:    configData(cfg, "auto"),
	})
	return nil
}

func (m *Monitor) addToPosition(ctx context.Context, cfg Config, c market.TradeConfirmation) error {
	cfg.EntryPrice = weightedEntry(cfg.EntryPrice, cfg.Quantity, c.Price, c.Quantity, m.places)
	cfg.Quantity = addQuantity(cfg.Quantity, c.Quantity)

	derived := stopBelow(cfg.EntryPrice, m.defaultPercent(), m.places)
	switch cfg.Kind {
	case Trailing:
		if p := roundPrice(c.Price, m.places); p > cfg.HighWaterMark {
			cfg.HighWaterMark = p
		}
		if derived > cfg.StopLossPrice {
			cfg.StopLossPrice = derived
		}
		if cfg.StopLossPrice > cfg.HighWaterMark {
			cfg.StopLossPrice = cfg.HighWaterMark
		}
	default:
		cfg.StopLossPrice = derived
	}
	cfg.UpdatedAt = m.now()

	if err := m.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save stop loss: %w", err)
	}
	m.events.Publish(events.Event{
		Type:    events.StopLossUpdated,
		Symbol:  c.Symbol,
		Message: fmt.Sprintf("position increased to %v, entry %.2f", cfg.Quantity, cfg.EntryPrice),
		Data:    configData(cfg, "buy"),
	})
	return nil
}

func (m *Monitor) reducePosition(ctx context.Context, cfg Config, c market.TradeConfirmation) error {
	remaining := subQuantity(cfg.Quantity, c.Quantity)
	if remaining <= 0 {
		if err := m.store.Delete(ctx, c.Symbol); err != nil {
			return fmt.Errorf("delete stop loss: %w", err)
		}
		m.refreshGauge(ctx)
		m.publishRemoved(cfg, "position closed")
		return nil
	}

	cfg.Quantity = remaining
	cfg.UpdatedAt = m.now()
	if err := m.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save stop loss: %w", err)
	}
	m.events.Publish(events.Event{
		Type:    events.StopLossUpdated,
		Symbol:  c.Symbol,
		Message: fmt.Sprintf("position reduced to %v", remaining),
		Data:    configData(cfg, "sell"),
	})
	return nil
}

// LiquidateAll sells every protected position. It returns the number sold
// and the joined failures.
func (m *Monitor) LiquidateAll(ctx context.Context, reason string) (int, error) {
	configs, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	m.log.Warn().Int("positions", len(configs)).Str("reason", reason).Msg("panic sell")
	m.events.Publish(events.Event{
		Type:    events.PanicSell,
		Message: "panic sell: " + reason,
		Data:    map[string]any{"positions": len(configs), "reason": reason},
	})

	sold := 0
	var errs []error
	for _, c := range configs {
		unlock := m.locks.lock(c.Symbol)
		cfg, err := m.store.Get(ctx, c.Symbol)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			errs = append(errs, fmt.Errorf("load %s: %w", c.Symbol, err))
		default:
			price := cfg.StopLossPrice
			if err := m.liquidate(ctx, cfg, price, "panic sell"); err != nil {
				errs = append(errs, err)
			} else {
				sold++
			}
		}
		unlock()
	}
	return sold, errors.Join(errs...)
}

// ReconcileReport lists what Reconcile changed.
type ReconcileReport struct {
	Removed     []string `json:"removed"`     // configs with no broker position
	Adjusted    []string `json:"adjusted"`    // quantity corrected
	Unprotected []string `json:"unprotected"` // broker positions without a stop
}

// Reconcile aligns configs with broker-reported long quantities per symbol.
func (m *Monitor) Reconcile(ctx context.Context, positions map[string]float64) (ReconcileReport, error) {
	var rep ReconcileReport
	configs, err := m.store.All(ctx)
	if err != nil {
		return rep, err
	}

	seen := make(map[string]bool, len(configs))
	var errs []error
	for _, c := range configs {
		seen[c.Symbol] = true
		qty := positions[c.Symbol]

		unlock := m.locks.lock(c.Symbol)
		cfg, err := m.store.Get(ctx, c.Symbol)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			errs = append(errs, err)
		case qty <= 0:
			if err := m.store.Delete(ctx, c.Symbol); err != nil {
				errs = append(errs, err)
			} else {
				rep.Removed = append(rep.Removed, c.Symbol)
				m.publishRemoved(cfg, "reconciliation")
			}
		case qty != cfg.Quantity:
			cfg.Quantity = qty
			cfg.UpdatedAt = m.now()
			if err := m.store.Save(ctx, cfg); err != nil {
				errs = append(errs, err)
			} else {
				rep.Adjusted = append(rep.Adjusted, c.Symbol)
			}
		}
		unlock()
	}
	for sym, qty := range positions {
		if qty > 0 && !seen[sym] {
			rep.Unprotected = append(rep.Unprotected, sym)
		}
	}
	sort.Strings(rep.Removed)
	sort.Strings(rep.Adjusted)
	sort.Strings(rep.Unprotected)
	m.refreshGauge(ctx)

	m.log.Info().
		Strs("removed", rep.Removed).
		Strs("adjusted", rep.Adjusted).
		Strs("unprotected", rep.Unprotected).
		Msg("reconciliation complete")
	m.events.Publish(events.Event{
		Type:    events.Reconciliation,
		Message: fmt.Sprintf("removed %d, adjusted %d, unprotected %d", len(rep.Removed), len(rep.Adjusted), len(rep.Unprotected)),
		Data: map[string]any{
			"removed":     rep.Removed,
			"adjusted":    rep.Adjusted,
			"unprotected": rep.Unprotected,
		},
	})
	return rep, errors.Join(errs...)
}
