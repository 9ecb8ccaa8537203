package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/metrics"
)

// State is the circuit breaker state.
type State string

const (
	Closed State = "CLOSED" // trading permitted
	Open   State = "OPEN"   // new entries blocked until reset
)

// ErrPnLUpdateInFlight is returned when UpdatePnL races another update.
var ErrPnLUpdateInFlight = errors.New("risk: pnl update already in flight")

type Options struct {
	// Capital enables MaxDailyLossPercent when > 0.
	Capital float64
	Events  events.Publisher
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Manager gates every order and owns the circuit breaker.
type Manager struct {
	store   SettingsStore
	events  events.Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	capital float64

	// pnlMu serializes P&L mutations.
	pnlMu sync.Mutex

	mu         sync.RWMutex
	limits     Limits
	state      State
	tripReason string
	realized   float64
	unrealized float64
}

type Status struct {
	CircuitBroken bool    `json:"circuit_broken"`
	State         State   `json:"state"`
	TripReason    string  `json:"trip_reason,omitempty"`
	DailyPnL      float64 `json:"daily_pnl"`
	Realized      float64 `json:"realized"`
	Unrealized    float64 `json:"unrealized"`
	LossLimit     float64 `json:"loss_limit"`
	Limits        Limits  `json:"limits"`
}

// NewManager loads limits from store, restoring a persisted OPEN breaker,
// and subscribes to store updates.
func NewManager(ctx context.Context, store SettingsStore, opts Options) (*Manager, error) {
	limits, err := store.RiskLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("load risk limits: %w", err)
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}

	m := &Manager{
		store:   store,
		events:  opts.Events,
		log:     opts.Logger.With().Str("component", "RiskManager").Logger(),
		metrics: opts.Metrics,
		capital: opts.Capital,
		limits:  limits,
		state:   Closed,
	}
	if limits.CircuitBroken {
		m.state = Open
		m.tripReason = "restored from persisted settings"
		m.log.Warn().Msg("circuit breaker restored OPEN from settings")
	}
	m.metrics.SetCircuitBreaker(m.state == Open)

	store.OnUpdate(m.applyUpdate)
	return m, nil
}

// applyUpdate mirrors persisted limits, breaker flag included. Last writer wins.
func (m *Manager) applyUpdate(l Limits) {
	m.mu.Lock()
	m.limits = l
	switch {
	case l.CircuitBroken && m.state == Closed:
		m.state = Open
		m.tripReason = "set externally"
		m.log.Warn().Msg("circuit breaker opened by settings update")
	case !l.CircuitBroken && m.state == Open:
		m.state = Closed
		m.tripReason = ""
		m.log.Info().Msg("circuit breaker closed by settings update")
	}
	open := m.state == Open
	m.mu.Unlock()

	m.metrics.SetCircuitBreaker(open)
}

// CheckOrderAllowed evaluates o against the limits given the caller's
// current unrealized P&L and open position count.
func (m *Manager) CheckOrderAllowed(ctx context.Context, o OrderIntent, unrealized float64, openPositions int) Decision {
	m.mu.Lock()
	in := checkInput{
		intent:        o,
		unrealized:    unrealized,
		openPositions: openPositions,
		limits:        m.limits,
		state:         m.state,
		tripReason:    m.tripReason,
		realized:      m.realized,
		lossLimit:     EffectiveDailyLoss(m.limits, m.capital),
	}
	d, tripped := evaluate(in)
	if tripped {
		tripped = m.openLocked(d.Reason)
	}
	m.mu.Unlock()

	if tripped {
		m.afterTrip(ctx, d.Reason, in.realized+unrealized, in.lossLimit)
	}

	m.metrics.OrderDecision(d.Code)
	if !d.Allowed {
		m.log.Info().
			Str("symbol", o.Symbol).
			Str("side", string(o.Side)).
			Float64("quantity", o.Quantity).
			Str("code", d.Code).
			Str("reason", d.Reason).
			Msg("order rejected")
	}
	return d
}

// UpdatePnL replaces the cached daily figures. A call that overlaps another
// P&L mutation is rejected with ErrPnLUpdateInFlight.
func (m *Manager) UpdatePnL(ctx context.Context, realized, unrealized float64) error {
	if !m.pnlMu.TryLock() {
		m.metrics.PnLUpdateRejected()
		m.log.Warn().
			Float64("realized", realized).
			Float64("unrealized", unrealized).
			Msg("pnl update dropped, another update in flight")
		return ErrPnLUpdateInFlight
	}
	defer m.pnlMu.Unlock()

	m.mu.Lock()
	m.realized = realized
	m.unrealized = unrealized
	return m.checkLossLocked(ctx)
}

// RecordRealized adds a realized P&L delta. It waits for any in-flight
// update rather than dropping the amount.
func (m *Manager) RecordRealized(ctx context.Context, amount float64) error {
	m.pnlMu.Lock()
	defer m.pnlMu.Unlock()

	m.mu.Lock()
	m.realized += amount
	return m.checkLossLocked(ctx)
}

// checkLossLocked is entered holding m.mu and releases it.
func (m *Manager) checkLossLocked(ctx context.Context) error {
	pnl := m.realized + m.unrealized
	limit := EffectiveDailyLoss(m.limits, m.capital)
	var reason string
	tripped := false
	if breached(pnl, limit) {
		reason = fmt.Sprintf("daily P&L %.2f breached loss limit %.2f", pnl, limit)
		tripped = m.openLocked(reason)
	}
	m.mu.Unlock()

	m.metrics.SetDailyPnL(pnl)
	if tripped {
		return m.afterTrip(ctx, reason, pnl, limit)
	}
	return nil
}

// openLocked moves CLOSED to OPEN and reports whether it did.
func (m *Manager) openLocked(reason string) bool {
	if m.state == Open {
		return false
	}
	m.state = Open
	m.tripReason = reason
	return true
}

// afterTrip persists the breaker flag and announces the trip.
func (m *Manager) afterTrip(ctx context.Context, reason string, pnl, limit float64) error {
	m.metrics.SetCircuitBreaker(true)
	m.log.Error().
		Float64("daily_pnl", pnl).
		Float64("loss_limit", limit).
		Str("reason", reason).
		Msg("circuit breaker triggered")

	m.events.Publish(events.Event{
		Type:    events.CircuitBreakerTriggered,
		Message: reason,
		Data: map[string]any{
			"daily_pnl":  pnl,
			"loss_limit": limit,
		},
	})
	return m.persistBreaker(ctx, true)
}

func (m *Manager) persistBreaker(ctx context.Context, open bool) error {
	l := m.Limits()
	l.CircuitBroken = open
	if err := m.store.SaveRiskLimits(ctx, l); err != nil {
		m.log.Error().Err(err).Bool("circuit_broken", open).Msg("persist breaker flag")
		return fmt.Errorf("persist circuit breaker: %w", err)
	}
	return nil
}

// TripBreaker opens the breaker on operator request.
func (m *Manager) TripBreaker(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	m.mu.Lock()
	tripped := m.openLocked(reason)
	pnl := m.realized + m.unrealized
	limit := EffectiveDailyLoss(m.limits, m.capital)
	m.mu.Unlock()

	if !tripped {
		return nil
	}
	return m.afterTrip(ctx, reason, pnl, limit)
}

// ResetDailyCounters clears the daily P&L and closes the breaker.
func (m *Manager) ResetDailyCounters(ctx context.Context) error {
	m.pnlMu.Lock()
	defer m.pnlMu.Unlock()

	m.mu.Lock()
	wasOpen := m.state == Open
	m.realized = 0
	m.unrealized = 0
	m.state = Closed
	m.tripReason = ""
	m.mu.Unlock()

	m.metrics.SetDailyPnL(0)
	m.metrics.SetCircuitBreaker(false)
	if err := m.persistBreaker(ctx, false); err != nil {
		return err
	}

	m.log.Info().Bool("was_open", wasOpen).Msg("daily risk counters reset")
	m.events.Publish(events.Event{
		Type:    events.CircuitBreakerReset,
		Message: "daily risk counters reset",
		Data:    map[string]any{"was_open": wasOpen},
	})
	return nil
}

// SaveLimits persists l, keeping the current breaker state.
func (m *Manager) SaveLimits(ctx context.Context, l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid risk limits: %w", err)
	}
	m.mu.RLock()
	old := m.limits
	l.CircuitBroken = m.state == Open
	m.mu.RUnlock()

	if err := m.store.SaveRiskLimits(ctx, l); err != nil {
		return fmt.Errorf("save risk limits: %w", err)
	}

	m.log.Info().Interface("limits", l).Msg("risk limits saved")
	m.events.Publish(events.Event{
		Type:    events.SettingsChanged,
		Message: "risk limits updated",
		Data: map[string]any{
			"old": old,
			"new": l,
		},
	})
	return nil
}

func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// StopLossPercent is the default stop distance used by the stop-loss monitor.
func (m *Manager) StopLossPercent() float64 {
	return m.Limits().StopLossPercent
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		CircuitBroken: m.state == Open,
		State:         m.state,
		TripReason:    m.tripReason,
		DailyPnL:      m.realized + m.unrealized,
		Realized:      m.realized,
		Unrealized:    m.unrealized,
		LossLimit:     EffectiveDailyLoss(m.limits, m.capital),
		Limits:        m.limits,
	}
}
