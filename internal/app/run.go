package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/market"
	"github.com/rustyeddy/riskguard/metrics"
	"github.com/rustyeddy/riskguard/replay"
	"golang.org/x/sync/errgroup"
)

// Run processes live ticks and fills until ctx is done or both channels
// are closed. Ticks are dispatched concurrently per symbol.
func (a *App) Run(ctx context.Context, ticks <-chan market.Tick, fills <-chan market.TradeConfirmation) error {
	return a.run(ctx, func(ctx context.Context) error {
		return a.consume(ctx, ticks, fills)
	})
}

// Replay processes a recorded feed row by row, waiting for each decision
// and confirmation before reading the next row.
func (a *App) Replay(ctx context.Context, f *replay.Feed) error {
	return a.run(ctx, func(ctx context.Context) error {
		return a.replay(ctx, f)
	})
}

func (a *App) run(ctx context.Context, drive func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info().Msg("trading started")
	a.Bus.Publish(events.Event{Type: events.TradingStarted, Message: "trading started"})

	g.Go(func() error { return a.Audit.Run(gctx) })
	g.Go(func() error { return a.schedule(gctx) })
	g.Go(func() error { return a.pnlLoop(gctx) })
	if a.redis != nil {
		g.Go(func() error { return a.redis.Listen(gctx) })
	}
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}
	if a.cfg.Risk.LiquidateOnTrip {
		g.Go(func() error { return a.liquidateOnTrip(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		err := drive(gctx)
		a.StopLoss.Wait()
		if perr := a.RefreshPnL(context.WithoutCancel(gctx)); perr != nil {
			a.log.Warn().Err(perr).Msg("final pnl refresh")
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.log.Info().Msg("trading stopped")
	a.Bus.Publish(events.Event{Type: events.TradingStopped, Message: "trading stopped"})
	return err
}

// Tick records t and hands it to the indicators and the stop-loss monitor.
func (a *App) Tick(ctx context.Context, t market.Tick) bool {
	a.Ticks.Set(t)
	snap := a.Indicators.Update(t.Symbol, t.Price)
	if snap.RSI.Ready {
		a.log.Debug().Str("symbol", t.Symbol).Float64("rsi", snap.RSI.Value).Msg("indicators")
	}
	return a.StopLoss.Dispatch(ctx, t)
}

func (a *App) consume(ctx context.Context, ticks <-chan market.Tick, fills <-chan market.TradeConfirmation) error {
	for ticks != nil || fills != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			a.Tick(ctx, t)
		case c, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			a.Confirm(ctx, c)
		}
	}
	return nil
}

func (a *App) replay(ctx context.Context, f *replay.Feed) error {
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, ok, err := f.Next()
		if err != nil {
			return err
		}
		if !ok {
			a.log.Info().Int("rows", rows).Msg("replay finished")
			return nil
		}
		rows++

		a.Ticks.Set(row.Tick)
		a.Indicators.Update(row.Tick.Symbol, row.Tick.Price)
		a.StopLoss.HandleTick(ctx, row.Tick)
		if row.Fill != nil {
			a.Confirm(ctx, *row.Fill)
		}
		a.StopLoss.Wait()
		if err := a.RefreshPnL(ctx); err != nil {
			a.log.Warn().Err(err).Msg("pnl refresh")
		}
	}
}

func (a *App) pnlLoop(ctx context.Context) error {
	if a.cfg.Risk.PnLInterval <= 0 {
		return nil
	}
	t := time.NewTicker(a.cfg.Risk.PnLInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.RefreshPnL(ctx); err != nil {
				a.log.Warn().Err(err).Msg("pnl refresh")
			}
		}
	}
}

func (a *App) liquidateOnTrip(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-a.trips:
			n, err := a.StopLoss.LiquidateAll(ctx, reason)
			if err != nil {
				a.log.Error().Err(err).Int("sold", n).Msg("liquidate on circuit breaker")
				continue
			}
			a.log.Warn().Int("sold", n).Msg("liquidated on circuit breaker")
		}
	}
}

// schedule runs the daily risk reset and audit retention jobs.
func (a *App) schedule(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(loc))

	if spec := a.cfg.Schedule.DailyReset; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			if err := a.ResetDay(ctx); err != nil {
				a.log.Error().Err(err).Msg("daily reset")
			}
		}); err != nil {
			return err
		}
	}
	if spec := a.cfg.Schedule.AuditCleanup; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			n, err := a.Audit.Cleanup(ctx, 0)
			if err != nil {
				a.log.Error().Err(err).Msg("audit cleanup")
				return
			}
			a.log.Info().Int64("removed", n).Msg("audit cleanup")
		}); err != nil {
			return err
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.Registry))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
