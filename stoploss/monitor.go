package stoploss

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/market"
	"github.com/rustyeddy/riskguard/metrics"
)

// liquidationTag prefixes the tags of orders the monitor places itself.
const liquidationTag = "SL"

type Options struct {
	// Precision is the number of decimal places for prices; 0 means
	// DefaultPrecision.
	Precision int32
	Events    events.Publisher
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Monitor owns the active stop-loss configs. Symbols are independent: a
// tick decision holds the symbol's in-flight slot, and every read-modify-write
// of a symbol's config holds that symbol's lock.
type Monitor struct {
	store   Store
	exec    broker.Executor
	limits  LimitsProvider
	events  events.Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	places  int32
	now     func() time.Time

	inflight *inflight
	queue    *keyedQueue
	locks    *symbolLocks
	wg       sync.WaitGroup

	mu       sync.Mutex
	halted   map[string]string
	lastTick map[string]time.Time
}

func NewMonitor(store Store, exec broker.Executor, limits LimitsProvider, opts Options) *Monitor {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Precision == 0 {
		opts.Precision = DefaultPrecision
	}
	log := opts.Logger.With().Str("component", "StopLossMonitor").Logger()

	return &Monitor{
		store:    store,
		exec:     exec,
		limits:   limits,
		events:   opts.Events,
		log:      log,
		metrics:  opts.Metrics,
		places:   opts.Precision,
		now:      time.Now,
		inflight: newInflight(),
		queue:    newKeyedQueue(log),
		locks:    newSymbolLocks(),
		halted:   make(map[string]string),
		lastTick: make(map[string]time.Time),
	}
}

// HandleTick decides synchronously. It returns false when the tick was
// dropped because a decision for the symbol is already in flight.
func (m *Monitor) HandleTick(ctx context.Context, t market.Tick) bool {
	if !m.inflight.acquire(t.Symbol) {
		m.dropped(t, "decision in flight")
		return false
	}
	defer m.inflight.release(t.Symbol)

	m.decide(ctx, t)
	return true
}

// Dispatch claims the symbol's in-flight slot and decides on a new
// goroutine, so a slow liquidation never stalls other symbols.
func (m *Monitor) Dispatch(ctx context.Context, t market.Tick) bool {
	if !m.inflight.acquire(t.Symbol) {
		m.dropped(t, "decision in flight")
		return false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.inflight.release(t.Symbol)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Str("symbol", t.Symbol).Str("panic", fmt.Sprint(r)).Msg("tick decision panicked")
			}
		}()
		m.decide(ctx, t)
	}()
	return true
}

func (m *Monitor) dropped(t market.Tick, why string) {
	m.metrics.TickDropped(t.Symbol)
	m.log.Debug().Str("symbol", t.Symbol).Float64("price", t.Price).Str("why", why).Msg("tick dropped")
}

// stale records t as the newest tick for its symbol, or reports that a
// newer one was already processed. Zero timestamps are never stale.
func (m *Monitor) stale(t market.Tick) bool {
	if t.Time.IsZero() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastTick[t.Symbol]; ok && t.Time.Before(last) {
		return true
	}
	m.lastTick[t.Symbol] = t.Time
	return false
}

func (m *Monitor) decide(ctx context.Context, t market.Tick) {
	if m.stale(t) {
		m.dropped(t, "out of order")
		return
	}
	m.metrics.TickProcessed(t.Symbol)
	if reason, halted := m.haltReason(t.Symbol); halted {
		m.log.Debug().Str("symbol", t.Symbol).Str("halt", reason).Msg("auto-liquidation halted")
		return
	}

	unlock := m.locks.lock(t.Symbol)
	defer unlock()

	cfg, err := m.store.Get(ctx, t.Symbol)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		m.log.Error().Err(err).Str("symbol", t.Symbol).Msg("load stop loss")
		return
	}

	if cfg.HaltReason != "" {
		m.log.Debug().Str("symbol", t.Symbol).Str("halt", cfg.HaltReason).Msg("auto-liquidation halted")
		return
	}

	if high := roundPrice(t.Price, m.places); cfg.Kind == Trailing && high > cfg.HighWaterMark {
		old := cfg.StopLossPrice
		newStop := stopBelow(t.Price, cfg.TrailingPercent, m.places)
		raised := newStop > old
		cfg.HighWaterMark = high
		if raised {
			cfg.StopLossPrice = newStop
		}
		cfg.UpdatedAt = m.now()
		if err := m.store.Save(ctx, cfg); err != nil {
			m.log.Error().Err(err).Str("symbol", t.Symbol).Msg("save trailing stop")
		} else if raised {
			m.log.Info().
				Str("symbol", t.Symbol).
				Float64("old_stop", old).
				Float64("new_stop", newStop).
				Float64("high_water_mark", cfg.HighWaterMark).
				Msg("trailing stop raised")
			m.events.Publish(events.Event{
				Type:    events.StopLossUpdated,
				Symbol:  t.Symbol,
				Message: fmt.Sprintf("trailing stop raised to %.2f", newStop),
				Data: map[string]any{
					"old_stop":        old,
					"new_stop":        newStop,
					"high_water_mark": cfg.HighWaterMark,
					"reason":          "trailing",
				},
			})
		}

		cfg, err = m.store.Get(ctx, t.Symbol)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", t.Symbol).Msg("reload stop loss")
			return
		}
	}

	if t.Price <= cfg.StopLossPrice {
		_ = m.liquidate(ctx, cfg, t.Price, "stop loss breached")
	}
}

// liquidate sells the whole position at market. Called with the symbol
// lock held. The order is not cancelled with ctx once submitted.
func (m *Monitor) liquidate(ctx context.Context, cfg Config, price float64, reason string) error {
	m.log.Warn().
		Str("symbol", cfg.Symbol).
		Float64("price", price).
		Float64("stop", cfg.StopLossPrice).
		Float64("quantity", cfg.Quantity).
		Str("reason", reason).
		Msg("stop loss triggered")
	m.events.Publish(events.Event{
		Type:    events.StopLossTriggered,
		Symbol:  cfg.Symbol,
		Message: fmt.Sprintf("%s: price %.2f, stop %.2f", reason, price, cfg.StopLossPrice),
		Data: map[string]any{
			"price":     price,
			"stop":      cfg.StopLossPrice,
			"quantity":  cfg.Quantity,
			"kind":      string(cfg.Kind),
			"reason":    reason,
			"entry":     cfg.EntryPrice,
			"triggered": m.now(),
		},
	})

	req := broker.OrderRequest{
		Symbol:   cfg.Symbol,
		Side:     market.Sell,
		Quantity: cfg.Quantity,
		Type:     broker.Market,
		Tag:      broker.NewTag(liquidationTag, cfg.Symbol),
	}
	exec, err := m.exec.PlaceOrder(context.WithoutCancel(ctx), req)
	if err != nil {
		// only errors from the venue halt; an open guard is retried next tick
		fatal := broker.IsFatal(err)
		if fatal {
			m.halt(ctx, cfg, err.Error())
		}
		m.metrics.Liquidation("failed")
		m.log.Error().Err(err).Str("symbol", cfg.Symbol).Str("tag", req.Tag).Bool("fatal", fatal).Msg("stop loss execution failed")
		m.events.Publish(events.Event{
			Type:    events.StopLossFailed,
			Symbol:  cfg.Symbol,
			Message: fmt.Sprintf("liquidation failed: %v", err),
			Data: map[string]any{
				"error":    err.Error(),
				"fatal":    fatal,
				"tag":      req.Tag,
				"quantity": cfg.Quantity,
			},
		})
		return fmt.Errorf("liquidate %s: %w", cfg.Symbol, err)
	}

	if exec.Quantity > 0 && exec.Quantity < cfg.Quantity {
		// partial fill: keep protecting the rest, the next breaching tick sells it
		rest := cfg
		rest.Quantity = subQuantity(cfg.Quantity, exec.Quantity)
		rest.UpdatedAt = m.now()
		if err := m.store.Save(ctx, rest); err != nil {
			m.halt(ctx, rest, "save after partial fill failed: "+err.Error())
			m.log.Error().Err(err).Str("symbol", cfg.Symbol).Msg("save partially executed stop loss")
		} else {
			m.log.Warn().
				Str("symbol", cfg.Symbol).
				Float64("filled", exec.Quantity).
				Float64("remaining", rest.Quantity).
				Msg("stop loss partially filled")
		}
	} else if err := m.store.Delete(ctx, cfg.Symbol); err != nil {
		// a config left behind would be sold again on the next tick
		m.halt(ctx, cfg, "delete after execution failed: "+err.Error())
		m.log.Error().Err(err).Str("symbol", cfg.Symbol).Msg("delete executed stop loss")
	}
	m.refreshGauge(ctx)

	realized := pnl(cfg.EntryPrice, exec.Price, exec.Quantity, m.places)
	m.metrics.Liquidation("executed")
	m.log.Info().
		Str("symbol", cfg.Symbol).
		Str("order_id", exec.OrderID).
		Float64("fill_price", exec.Price).
		Float64("realized_pnl", realized).
		Msg("stop loss executed")
	m.events.Publish(events.Event{
		Type:    events.StopLossExecuted,
		Symbol:  cfg.Symbol,
		Message: fmt.Sprintf("sold %v @ %.2f", exec.Quantity, exec.Price),
		Data: map[string]any{
			"order_id":     exec.OrderID,
			"tag":          req.Tag,
			"quantity":     exec.Quantity,
			"fill_price":   exec.Price,
			"entry_price":  cfg.EntryPrice,
			"stop":         cfg.StopLossPrice,
			"realized_pnl": realized,
		},
	})
	return nil
}

// halt stops automatic liquidation of cfg's symbol. The reason is saved on
// the config so other processes sharing the store see and clear it; it is
// kept in memory only when that save fails.
func (m *Monitor) halt(ctx context.Context, cfg Config, reason string) {
	cfg.HaltReason = reason
	cfg.UpdatedAt = m.now()
	if err := m.store.Save(ctx, cfg); err != nil {
		m.log.Error().Err(err).Str("symbol", cfg.Symbol).Msg("save halt")
		m.mu.Lock()
		m.halted[cfg.Symbol] = reason
		m.mu.Unlock()
	}
}

func (m *Monitor) haltReason(symbol string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.halted[symbol]
	return r, ok
}

func (m *Monitor) unhalt(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, was := m.halted[symbol]
	delete(m.halted, symbol)
	return was
}

// Resume re-enables automatic liquidation for a symbol halted by a fatal
// execution error. It returns ErrNotFound when the symbol is neither
// halted nor protected.
func (m *Monitor) Resume(ctx context.Context, symbol string) error {
	unlock := m.locks.lock(symbol)
	defer unlock()

	was := m.unhalt(symbol)
	cfg, err := m.store.Get(ctx, symbol)
	switch {
	case errors.Is(err, ErrNotFound) && was:
	case err != nil:
		return err
	case cfg.HaltReason != "":
		cfg.HaltReason = ""
		cfg.UpdatedAt = m.now()
		if err := m.store.Save(ctx, cfg); err != nil {
			return fmt.Errorf("save stop loss %s: %w", symbol, err)
		}
		was = true
	}
	if was {
		m.log.Info().Str("symbol", symbol).Msg("auto-liquidation resumed")
		m.events.Publish(events.Event{
			Type:    events.StopLossUpdated,
			Symbol:  symbol,
			Message: "auto-liquidation resumed",
			Data:    map[string]any{"reason": "resume"},
		})
	}
	return nil
}

// Halted returns halted symbols and why, from this process and the store.
func (m *Monitor) Halted(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	out := make(map[string]string, len(m.halted))
	for k, v := range m.halted {
		out[k] = v
	}
	m.mu.Unlock()

	all, err := m.store.All(ctx)
	if err != nil {
		return out, err
	}
	for _, c := range all {
		if c.HaltReason != "" {
			out[c.Symbol] = c.HaltReason
		}
	}
	return out, nil
}

func (m *Monitor) Get(ctx context.Context, symbol string) (Config, error) {
	return m.store.Get(ctx, symbol)
}

// List returns every active config sorted by symbol.
func (m *Monitor) List(ctx context.Context) ([]Config, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Symbol < all[j].Symbol })
	m.metrics.SetActiveStopLosses(len(all))
	return all, nil
}

func (m *Monitor) refreshGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	if all, err := m.store.All(ctx); err == nil {
		m.metrics.SetActiveStopLosses(len(all))
	}
}

// Wait blocks until dispatched tick decisions and queued confirmations
// have finished.
func (m *Monitor) Wait() {
	m.wg.Wait()
	m.queue.wait()
}
