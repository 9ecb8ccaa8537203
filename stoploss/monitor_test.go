package stoploss

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu         sync.Mutex
	configs    map[string]Config
	saves      int
	deletes    int
	beforeSave func(Config)
}

func newMemStore() *memStore {
	return &memStore{configs: make(map[string]Config)}
}

func (s *memStore) All(context.Context) ([]Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Config, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, symbol string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[symbol]
	if !ok {
		return Config{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) Save(_ context.Context, c Config) error {
	if s.beforeSave != nil {
		s.beforeSave(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.Symbol] = c
	s.saves++
	return nil
}

func (s *memStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[symbol]; ok {
		s.deletes++
	}
	delete(s.configs, symbol)
	return nil
}

func (s *memStore) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []broker.OrderRequest
	errs    []error
	fill    float64
	partial float64
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.Execution, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	fill := f.fill
	qty := req.Quantity
	if f.partial > 0 && f.partial < qty {
		qty = f.partial
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err != nil {
		return broker.Execution{}, err
	}
	return broker.Execution{
		OrderID:  fmt.Sprintf("X%d", n),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    fill,
		Tag:      req.Tag,
	}, nil
}

func (f *fakeExecutor) orders() []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.OrderRequest(nil), f.calls...)
}

type fixture struct {
	mon   *Monitor
	store *memStore
	exec  *fakeExecutor
	rec   *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		exec:  &fakeExecutor{fill: 96},
		rec:   &events.Recorder{},
	}
	f.mon = NewMonitor(f.store, f.exec, StaticPercent(3), Options{Events: f.rec, Logger: zerolog.Nop()})
	return f
}

func tick(symbol string, price float64) market.Tick {
	return market.Tick{Symbol: symbol, Price: price}
}

func fill(side market.Side, qty, price float64) market.TradeConfirmation {
	return market.TradeConfirmation{ID: fmt.Sprintf("%s-%v-%v", side, qty, price), Symbol: "INFY", Side: side, Quantity: qty, Price: price}
}

func TestAverageEntryThenBreach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 97.0, cfg.StopLossPrice)
	assert.Equal(t, Fixed, cfg.Kind)

	f.mon.HandleConfirmation(ctx, fill(market.Buy, 10, 110))
	f.mon.Wait()

	cfg, err = f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 105.0, cfg.EntryPrice)
	assert.Equal(t, 20.0, cfg.Quantity)
	assert.Equal(t, 101.85, cfg.StopLossPrice)

	require.True(t, f.mon.HandleTick(ctx, tick("INFY", 96)))

	_, err = f.mon.Get(ctx, "INFY")
	assert.ErrorIs(t, err, ErrNotFound)

	orders := f.exec.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, market.Sell, orders[0].Side)
	assert.Equal(t, broker.Market, orders[0].Type)
	assert.Equal(t, 20.0, orders[0].Quantity)
	assert.Contains(t, orders[0].Tag, "SL-INFY-")

	triggered := f.rec.OfType(events.StopLossTriggered)
	executed := f.rec.OfType(events.StopLossExecuted)
	require.Len(t, triggered, 1)
	require.Len(t, executed, 1)
	assert.Equal(t, -180.0, executed[0].Data["realized_pnl"])
}

func TestTriggeredPublishedBeforeExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.gate = make(chan struct{})
	f.exec.entered = make(chan struct{}, 1)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	require.True(t, f.mon.Dispatch(ctx, tick("INFY", 90)))
	<-f.exec.entered
	assert.Len(t, f.rec.OfType(events.StopLossTriggered), 1)
	assert.Empty(t, f.rec.OfType(events.StopLossExecuted))

	close(f.exec.gate)
	f.mon.Wait()
	assert.Len(t, f.rec.OfType(events.StopLossExecuted), 1)
}

func TestConcurrentBreachingTicksLiquidateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.gate = make(chan struct{})
	f.exec.entered = make(chan struct{}, 4)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	require.True(t, f.mon.Dispatch(ctx, tick("INFY", 95)))
	<-f.exec.entered
	assert.False(t, f.mon.Dispatch(ctx, tick("INFY", 94)), "second tick must be dropped while the first is in flight")
	assert.False(t, f.mon.HandleTick(ctx, tick("INFY", 93)))

	close(f.exec.gate)
	f.mon.Wait()

	assert.Len(t, f.exec.orders(), 1)
	assert.Equal(t, 1, f.store.deleteCount())
	assert.Len(t, f.rec.OfType(events.StopLossExecuted), 1)

	// once the config is gone a later breach is ignored
	assert.True(t, f.mon.HandleTick(ctx, tick("INFY", 90)))
	assert.Len(t, f.exec.orders(), 1)
}

func TestManyConcurrentTicks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.mon.HandleTick(ctx, tick("INFY", 90))
		}()
	}
	wg.Wait()

	assert.Len(t, f.exec.orders(), 1)
	assert.Equal(t, 1, f.store.deleteCount())
}

func TestTrailingStopNonDecreasing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10, Kind: Trailing, TrailingPercent: 5})
	require.NoError(t, err)
	assert.Equal(t, 97.0, cfg.StopLossPrice, "initial trailing stop uses the default percent")
	assert.Equal(t, 100.0, cfg.HighWaterMark)

	prices := []float64{101, 105, 103, 110, 108, 120, 115}
	var stops []float64
	for _, p := range prices {
		require.True(t, f.mon.HandleTick(ctx, tick("INFY", p)))
		c, err := f.mon.Get(ctx, "INFY")
		require.NoError(t, err)
		assert.LessOrEqual(t, c.StopLossPrice, c.HighWaterMark)
		stops = append(stops, c.StopLossPrice)
	}
	for i := 1; i < len(stops); i++ {
		assert.GreaterOrEqual(t, stops[i], stops[i-1])
	}
	assert.Equal(t, []float64{97, 99.75, 99.75, 104.5, 104.5, 114, 114}, stops)
	assert.Empty(t, f.exec.orders())

	c, _ := f.mon.Get(ctx, "INFY")
	assert.Equal(t, 120.0, c.HighWaterMark)

	f.mon.HandleTick(ctx, tick("INFY", 113))
	assert.Len(t, f.exec.orders(), 1)
}

func TestTrailingNeverLowers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// a stop already above what one tick can ratchet to
	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1, Kind: Trailing, TrailingPercent: 50, StopLossPrice: 99})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, tick("INFY", 101))
	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 99.0, c.StopLossPrice, "stop never moves down")
	assert.Empty(t, f.exec.orders())
}

func TestHighWaterMarkTracksEveryHigh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1, Kind: Trailing, TrailingPercent: 5, StopLossPrice: 98})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, tick("INFY", 102))
	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 98.0, c.StopLossPrice)
	assert.Equal(t, 102.0, c.HighWaterMark)
	assert.Empty(t, f.rec.OfType(events.StopLossUpdated), "no raise event when only the high moved")

	f.mon.HandleTick(ctx, tick("INFY", 104))
	c, err = f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 98.8, c.StopLossPrice)
	assert.Equal(t, 104.0, c.HighWaterMark)
}

func TestConfirmationsAppliedInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	delays := []time.Duration{20 * time.Millisecond, 10 * time.Millisecond, 5 * time.Millisecond, 0}
	var n int
	var mu sync.Mutex
	f.store.beforeSave = func(Config) {
		mu.Lock()
		d := time.Duration(0)
		if n < len(delays) {
			d = delays[n]
		}
		n++
		mu.Unlock()
		time.Sleep(d)
	}

	f.mon.HandleConfirmation(ctx, fill(market.Buy, 10, 100))
	f.mon.HandleConfirmation(ctx, fill(market.Buy, 10, 110))
	f.mon.HandleConfirmation(ctx, fill(market.Sell, 5, 120))
	f.mon.HandleConfirmation(ctx, fill(market.Buy, 5, 130))
	f.mon.Wait()

	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 111.25, c.EntryPrice)
	assert.Equal(t, 20.0, c.Quantity)
	assert.Equal(t, stopBelow(111.25, 3, 2), c.StopLossPrice)
	assert.Zero(t, f.mon.queue.keys())

	assert.Len(t, f.rec.OfType(events.StopLossCreated), 1)
	assert.Len(t, f.rec.OfType(events.StopLossUpdated), 3)
}

func TestSellClosesPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mon.HandleConfirmation(ctx, fill(market.Buy, 10, 100))
	f.mon.HandleConfirmation(ctx, fill(market.Sell, 4, 101))
	f.mon.Wait()
	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 6.0, c.Quantity)
	assert.Equal(t, 100.0, c.EntryPrice)

	f.mon.HandleConfirmation(ctx, fill(market.Sell, 6, 102))
	f.mon.Wait()
	_, err = f.mon.Get(ctx, "INFY")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.rec.OfType(events.StopLossRemoved), 1)

	// a sell with nothing protected is ignored
	f.mon.HandleConfirmation(ctx, fill(market.Sell, 1, 100))
	f.mon.Wait()
	all, _ := f.mon.List(ctx)
	assert.Empty(t, all)
}

func TestBuyOnTrailingKeepsRatchet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10, Kind: Trailing, TrailingPercent: 5})
	require.NoError(t, err)
	f.mon.HandleTick(ctx, tick("INFY", 120))

	f.mon.HandleConfirmation(ctx, fill(market.Buy, 10, 90))
	f.mon.Wait()

	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 95.0, c.EntryPrice)
	assert.Equal(t, 114.0, c.StopLossPrice)
	assert.Equal(t, 120.0, c.HighWaterMark)
	assert.NoError(t, c.Validate())
}

func TestFailedExecutionKeepsConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.errs = []error{errors.New("exchange timeout")}

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, tick("INFY", 90))
	_, err = f.mon.Get(ctx, "INFY")
	require.NoError(t, err, "config retained after failure")

	failed := f.rec.OfType(events.StopLossFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, false, failed[0].Data["fatal"])

	f.mon.HandleTick(ctx, tick("INFY", 90))
	_, err = f.mon.Get(ctx, "INFY")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.exec.orders(), 2)
}

func TestFatalExecutionHalts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.errs = []error{fmt.Errorf("session expired: %w", broker.ErrAuth)}

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, tick("INFY", 90))
	f.mon.HandleTick(ctx, tick("INFY", 89))
	f.mon.HandleTick(ctx, tick("INFY", 88))

	assert.Len(t, f.exec.orders(), 1, "no retries after a fatal error")
	failed := f.rec.OfType(events.StopLossFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, true, failed[0].Data["fatal"])
	halted, err := f.mon.Halted(ctx)
	require.NoError(t, err)
	assert.Contains(t, halted, "INFY")

	require.NoError(t, f.mon.Resume(ctx, "INFY"))
	f.mon.HandleTick(ctx, tick("INFY", 88))
	assert.Len(t, f.exec.orders(), 2)
	_, err = f.mon.Get(ctx, "INFY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHaltSharedThroughStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.errs = []error{broker.ErrAuth}

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)
	f.mon.HandleTick(ctx, tick("INFY", 90))

	c, err := f.store.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, broker.ErrAuth.Error(), c.HaltReason)

	// a second monitor over the same store, as a separate process would see it
	other := NewMonitor(f.store, f.exec, StaticPercent(3), Options{Logger: zerolog.Nop()})
	halted, err := other.Halted(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"INFY": broker.ErrAuth.Error()}, halted)

	other.HandleTick(ctx, tick("INFY", 85))
	assert.Len(t, f.exec.orders(), 1)

	require.NoError(t, other.Resume(ctx, "INFY"))
	c, err = f.store.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Empty(t, c.HaltReason)

	other.HandleTick(ctx, tick("INFY", 85))
	assert.Len(t, f.exec.orders(), 2)
	assert.ErrorIs(t, other.Resume(ctx, "TCS"), ErrNotFound)
}

func TestGuardOpenDoesNotHalt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.errs = []error{broker.ErrAuth}
	guard := broker.NewGuarded(f.exec, broker.GuardConfig{MaxFatalFailures: 1, Cooldown: 100 * time.Millisecond}, zerolog.Nop())
	mon := NewMonitor(f.store, guard, StaticPercent(3), Options{Events: f.rec, Logger: zerolog.Nop()})

	for _, sym := range []string{"AAA", "BBB"} {
		_, err := mon.SetStopLoss(ctx, sym, Params{EntryPrice: 100, Quantity: 10})
		require.NoError(t, err)
	}

	mon.HandleTick(ctx, tick("AAA", 90))
	assert.Equal(t, "open", guard.State())

	mon.HandleTick(ctx, tick("BBB", 90))
	_, err := mon.Get(ctx, "BBB")
	require.NoError(t, err, "config kept while the guard is open")
	failed := f.rec.OfType(events.StopLossFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, false, failed[1].Data["fatal"])

	require.Eventually(t, func() bool {
		mon.HandleTick(ctx, tick("BBB", 80))
		_, err := mon.Get(ctx, "BBB")
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	halted, err := mon.Halted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, keys(halted))
	assert.Equal(t, "closed", guard.State())
	assert.Len(t, f.exec.orders(), 2)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPartialFillKeepsRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.partial = 4

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 10})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, tick("INFY", 90))
	c, err := f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 6.0, c.Quantity)
	assert.Equal(t, 97.0, c.StopLossPrice)

	executed := f.rec.OfType(events.StopLossExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, 4.0, executed[0].Data["quantity"])
	assert.Equal(t, -16.0, executed[0].Data["realized_pnl"])

	// the venue's confirmation of that same sale must not reduce it again
	f.mon.HandleConfirmation(ctx, market.TradeConfirmation{
		ID: "X1", Symbol: "INFY", Side: market.Sell, Quantity: 4, Price: 96, Tag: f.exec.orders()[0].Tag,
	})
	f.mon.Wait()
	c, err = f.mon.Get(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 6.0, c.Quantity)

	f.exec.mu.Lock()
	f.exec.partial = 0
	f.exec.mu.Unlock()
	f.mon.HandleTick(ctx, tick("INFY", 90))
	_, err = f.mon.Get(ctx, "INFY")
	assert.ErrorIs(t, err, ErrNotFound)

	orders := f.exec.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, 6.0, orders[1].Quantity)
}

func TestSetStopLossClearsHalt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1})
	require.NoError(t, err)
	f.mon.halt(ctx, cfg, "test")

	_, err = f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1})
	require.NoError(t, err)
	halted, err := f.mon.Halted(ctx)
	require.NoError(t, err)
	assert.Empty(t, halted)
}

func TestSetStopLossValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		p    Params
	}{
		{"no entry", Params{Quantity: 1}},
		{"no quantity", Params{EntryPrice: 100}},
		{"trailing without percent", Params{EntryPrice: 100, Quantity: 1, Kind: Trailing}},
		{"trailing stop above entry", Params{EntryPrice: 100, Quantity: 1, Kind: Trailing, TrailingPercent: 5, StopLossPrice: 101}},
		{"unknown kind", Params{EntryPrice: 100, Quantity: 1, Kind: "BRACKET"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mon.SetStopLoss(ctx, "INFY", tt.p)
			assert.Error(t, err)
		})
	}
	all, _ := f.mon.List(ctx)
	assert.Empty(t, all)
}

func TestSetStopLossReplaceKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.mon.now = func() time.Time { return t0 }

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1})
	require.NoError(t, err)

	f.mon.now = func() time.Time { return t0.Add(time.Hour) }
	c, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1, StopLossPrice: 95})
	require.NoError(t, err)
	assert.Equal(t, t0, c.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), c.UpdatedAt)
	assert.Equal(t, 95.0, c.StopLossPrice)
	assert.Len(t, f.rec.OfType(events.StopLossUpdated), 1)
}

func TestRemoveStopLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.mon.RemoveStopLoss(ctx, "INFY"), ErrNotFound)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, f.mon.RemoveStopLoss(ctx, "INFY"))

	f.mon.HandleTick(ctx, tick("INFY", 1))
	assert.Empty(t, f.exec.orders())
	assert.Len(t, f.rec.OfType(events.StopLossRemoved), 1)
}

func TestOutOfOrderTickDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	_, err := f.mon.SetStopLoss(ctx, "INFY", Params{EntryPrice: 100, Quantity: 1, Kind: Trailing, TrailingPercent: 5})
	require.NoError(t, err)

	f.mon.HandleTick(ctx, market.Tick{Symbol: "INFY", Price: 110, Time: base.Add(time.Second)})
	f.mon.HandleTick(ctx, market.Tick{Symbol: "INFY", Price: 130, Time: base})

	c, _ := f.mon.Get(ctx, "INFY")
	assert.Equal(t, 104.5, c.StopLossPrice, "stale high must not ratchet")
	assert.Equal(t, 110.0, c.HighWaterMark)
}

func TestLiquidateAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, sym := range []string{"INFY", "TCS", "WIPRO"} {
		_, err := f.mon.SetStopLoss(ctx, sym, Params{EntryPrice: 100, Quantity: 2})
		require.NoError(t, err)
	}
	f.exec.errs = []error{nil, errors.New("rejected")}

	n, err := f.mon.LiquidateAll(ctx, "operator")
	assert.Equal(t, 2, n)
	assert.ErrorContains(t, err, "rejected")
	assert.Len(t, f.rec.OfType(events.PanicSell), 1)

	left, _ := f.mon.List(ctx)
	require.Len(t, left, 1)
	assert.Equal(t, "TCS", left[0].Symbol)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, sym := range []string{"INFY", "TCS", "WIPRO"} {
		_, err := f.mon.SetStopLoss(ctx, sym, Params{EntryPrice: 100, Quantity: 10})
		require.NoError(t, err)
	}

	rep, err := f.mon.Reconcile(ctx, map[string]float64{
		"INFY":  10,
		"TCS":   4,
		"HDFC":  7,
		"RELI":  0,
		"WIPRO": 0,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"WIPRO"}, rep.Removed)
	assert.Equal(t, []string{"TCS"}, rep.Adjusted)
	assert.Equal(t, []string{"HDFC"}, rep.Unprotected)

	c, _ := f.mon.Get(ctx, "TCS")
	assert.Equal(t, 4.0, c.Quantity)
	assert.Len(t, f.rec.OfType(events.Reconciliation), 1)
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Symbol: "INFY", EntryPrice: 100, StopLossPrice: 97, Quantity: 1, Kind: Fixed}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.TrailingPercent = 5
	assert.Error(t, bad.Validate())

	tr := Config{Symbol: "INFY", EntryPrice: 100, StopLossPrice: 97, Quantity: 1, Kind: Trailing, TrailingPercent: 5, HighWaterMark: 96}
	assert.Error(t, tr.Validate())
	tr.HighWaterMark = 100
	assert.NoError(t, tr.Validate())
}
