// Package app builds the risk services from configuration and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/audit"
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/broker/sim"
	"github.com/rustyeddy/riskguard/config"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/indicators"
	"github.com/rustyeddy/riskguard/journal"
	"github.com/rustyeddy/riskguard/market"
	"github.com/rustyeddy/riskguard/metrics"
	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/stoploss"
	"github.com/rustyeddy/riskguard/store"
)

// App owns every service of one riskguard process.
type App struct {
	cfg  *config.Config
	root zerolog.Logger
	log  zerolog.Logger

	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Bus        *events.Bus
	Ticks      *market.TickStore
	Indicators *indicators.Engine
	Venue      *sim.Engine
	Executor   *broker.Guarded
	Risk       *risk.Manager
	StopLoss   *stoploss.Monitor
	Audit      *audit.Service

	redis   *store.RedisSettings
	closers []io.Closer
	trips   chan string

	// mu orders realized P&L bookkeeping with the calls that push it to Risk.
	mu       sync.Mutex
	realized float64
}

// New opens the configured stores and wires the services together.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{
		cfg:      cfg,
		root:     log,
		log:      log.With().Str("component", "App").Logger(),
		Registry: prometheus.NewRegistry(),
		Bus:      events.NewBus(),
		Ticks:    market.NewTickStore(),
		trips:    make(chan string, 1),
	}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()
	a.Metrics = metrics.New(a.Registry)

	configs, settings, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}

	j, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}
	a.Audit = audit.NewService(j, cfg.Audit, audit.Options{Logger: log, Metrics: a.Metrics})
	a.Bus.SubscribeAll(a.Audit.Observe)

	a.Risk, err = risk.NewManager(ctx, settings, risk.Options{
		Capital: cfg.Risk.Capital,
		Events:  a.Bus,
		Logger:  log,
		Metrics: a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Risk.Limits != nil {
		if err := a.Risk.SaveLimits(ctx, *cfg.Risk.Limits); err != nil {
			return nil, err
		}
	}

	a.Indicators, err = indicators.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("indicators: %w", err)
	}

	a.Venue = sim.NewEngine(a.Ticks)
	a.Executor = broker.NewGuarded(a.Venue, cfg.Broker, log)
	a.StopLoss = stoploss.NewMonitor(configs, a.Executor, a.Risk, stoploss.Options{
		Precision: cfg.StopLoss.Precision,
		Events:    a.Bus,
		Logger:    log,
		Metrics:   a.Metrics,
	})

	a.Venue.OnFill(func(c market.TradeConfirmation) {
		a.Confirm(context.Background(), c)
	})
	a.Bus.Subscribe(events.StopLossExecuted, a.onStopLossExecuted)
	if cfg.Risk.LiquidateOnTrip {
		a.Bus.Subscribe(events.CircuitBreakerTriggered, a.onTrip)
	}
	return a, nil
}

type stateStore interface {
	stoploss.Store
	risk.SettingsStore
}

func (a *App) openState(ctx context.Context) (stoploss.Store, risk.SettingsStore, error) {
	var st stateStore
	switch a.cfg.Storage.State {
	case "memory":
		st = store.NewMemory()
	case "sqlite":
		s, err := store.OpenSQLite(a.cfg.Storage.StatePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s)
		st = s
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", a.cfg.Storage.State)
	}

	if a.cfg.Storage.Settings != "redis" {
		return st, st, nil
	}

	client := store.NewRedisClient(a.cfg.Storage.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", a.cfg.Storage.Redis.Address, err)
	}
	a.redis = store.NewRedisSettings(client, a.cfg.Storage.Redis, a.root)
	a.closers = append(a.closers, a.redis)
	return st, a.redis, nil
}

func (a *App) openJournal(ctx context.Context) (journal.Journal, error) {
	var (
		j   journal.Journal
		err error
	)
	switch a.cfg.Storage.Audit {
	case "memory":
		j = journal.NewMemory()
	case "sqlite":
		j, err = journal.NewSQLite(a.cfg.Storage.AuditPath)
	case "postgres":
		j, err = journal.NewPostgres(ctx, a.cfg.Storage.PostgresDSN)
	default:
		err = fmt.Errorf("unknown audit backend %q", a.cfg.Storage.Audit)
	}
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	a.closers = append(a.closers, j)
	return j, nil
}

// Confirm publishes a fill and hands it to the stop-loss monitor.
func (a *App) Confirm(ctx context.Context, c market.TradeConfirmation) {
	a.Bus.Publish(events.Event{
		Type:    events.TradeExecuted,
		Symbol:  c.Symbol,
		Message: fmt.Sprintf("%s %v %s @ %.2f", c.Side, c.Quantity, c.Symbol, c.Price),
		Data: map[string]any{
			"trade_id": c.ID,
			"side":     string(c.Side),
			"quantity": c.Quantity,
			"price":    c.Price,
		},
	})
	a.StopLoss.HandleConfirmation(ctx, c)
}

func (a *App) onStopLossExecuted(ev events.Event) {
	amount, ok := ev.Data["realized_pnl"].(float64)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.realized += amount
	if err := a.Risk.RecordRealized(context.Background(), amount); err != nil {
		a.log.Error().Err(err).Str("symbol", ev.Symbol).Msg("record realized pnl")
	}
}

func (a *App) onTrip(ev events.Event) {
	select {
	case a.trips <- ev.Message:
	default:
	}
}

// Exposure sums unrealized P&L over protected positions with a known price
// and counts the open positions.
func (a *App) Exposure(ctx context.Context) (unrealized float64, open int, err error) {
	configs, err := a.StopLoss.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range configs {
		if last, ok := a.Ticks.Last(c.Symbol); ok {
			unrealized += (last - c.EntryPrice) * c.Quantity
		}
	}
	return unrealized, len(configs), nil
}

// Reconcile aligns the stop-loss configs with broker-reported long
// quantities. Symbols missing from positions are treated as flat, so their
// configs are removed.
func (a *App) Reconcile(ctx context.Context, positions map[string]float64) (stoploss.ReconcileReport, error) {
	rep, err := a.StopLoss.Reconcile(ctx, positions)
	if err != nil {
		return rep, fmt.Errorf("reconcile: %w", err)
	}
	if len(rep.Unprotected) > 0 {
		a.log.Warn().Strs("symbols", rep.Unprotected).Msg("broker positions without a stop loss")
	}
	return rep, nil
}

// RefreshPnL pushes realized and unrealized P&L to the risk manager.
func (a *App) RefreshPnL(ctx context.Context) error {
	unrealized, _, err := a.Exposure(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	err = a.Risk.UpdatePnL(ctx, a.realized, unrealized)
	a.mu.Unlock()
	if errors.Is(err, risk.ErrPnLUpdateInFlight) {
		return nil
	}
	return err
}

// ResetDay clears the day's P&L and closes the breaker.
func (a *App) ResetDay(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.realized = 0
	return a.Risk.ResetDailyCounters(ctx)
}

// Close flushes the audit trail and closes every store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.StopLoss.Wait()
	err := a.Audit.Close(ctx)
	return errors.Join(err, a.closeStores())
}

func (a *App) closeStores() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
