package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails while down is set.
type flakyStore struct {
	mu       sync.Mutex
	entries  []Entry
	down     bool
	attempts int
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

func (f *flakyStore) Append(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.down {
		return errors.New("disk unavailable")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *flakyStore) Query(_ context.Context, flt Filter) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if flt.Match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *flakyStore) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keep []Entry
	for _, e := range f.entries {
		if !e.Timestamp.Before(olderThan) {
			keep = append(keep, e)
		}
	}
	n := int64(len(f.entries) - len(keep))
	f.entries = keep
	return n, nil
}

func (f *flakyStore) stored() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.entries...)
}

func newService(t *testing.T, store Store, cfg Config) *Service {
	t.Helper()
	return NewService(store, cfg, Options{Logger: zerolog.Nop()})
}

func TestLogAssignsDefaults(t *testing.T) {
	store := &flakyStore{}
	s := newService(t, store, Config{})

	e, err := s.Log(context.Background(), Entry{
		EventType: StopLossTriggered,
		Symbol:    "INFY",
		Message:   "breach",
		Details:   map[string]any{"api_key": "abc", "price": 96.0},
	})
	require.NoError(t, err)
	assert.Len(t, e.ID, 26)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, CategoryStopLoss, e.Category)
	assert.Equal(t, Info, e.Severity)
	assert.Equal(t, redacted, e.Details["api_key"])

	got := store.stored()
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
}

func TestLogRejectsUnknownType(t *testing.T) {
	s := newService(t, &flakyStore{}, Config{})
	_, err := s.Log(context.Background(), Entry{EventType: "NOPE"})
	assert.Error(t, err)
}

func TestFailedWriteIsRetried(t *testing.T) {
	store := &flakyStore{down: true}
	s := newService(t, store, Config{RetryBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	_, err := s.Log(ctx, Entry{EventType: System, Message: "one"})
	require.NoError(t, err, "storage errors are invisible to callers")
	assert.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	store.setDown(false)
	assert.Eventually(t, func() bool { return len(store.stored()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Pending())

	cancel()
	<-done
}

func TestBacklogRetriedWithoutNewEntries(t *testing.T) {
	store := &flakyStore{down: true}
	s := newService(t, store, Config{RetryBackoff: time.Hour, RetryInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		_, err := s.Log(ctx, Entry{EventType: System})
		require.NoError(t, err)
	}
	store.setDown(false)

	// no new entries arrive; backoff is an hour, so only the interval can drain
	assert.Eventually(t, func() bool { return len(store.stored()) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestQueueDropsOldest(t *testing.T) {
	store := &flakyStore{down: true}
	s := newService(t, store, Config{QueueSize: 2})

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := s.Log(context.Background(), Entry{EventType: System})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, 2, s.Pending())
	assert.EqualValues(t, 1, s.Dropped())

	store.setDown(false)
	require.NoError(t, s.Close(context.Background()))

	got := store.stored()
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)
	assert.Equal(t, ids[2], got[1].ID)
}

func TestObserveFromBus(t *testing.T) {
	store := &flakyStore{}
	s := newService(t, store, Config{})

	bus := events.NewBus()
	bus.SubscribeAll(s.Observe)
	bus.Publish(events.Event{Type: events.CircuitBreakerTriggered, Message: "loss", Data: map[string]any{"daily_pnl": -1001.0}})
	bus.Publish(events.Event{Type: events.StopLossFailed, Symbol: "INFY", Message: "rejected"})
	assert.Equal(t, 2, s.Pending())

	require.NoError(t, s.Close(context.Background()))
	got := store.stored()
	require.Len(t, got, 2)
	assert.Equal(t, CircuitBreakerTriggered, got[0].EventType)
	assert.Equal(t, Error, got[0].Severity)
	assert.Equal(t, CategoryRisk, got[0].Category)
	assert.Equal(t, TradeFailed, got[1].EventType)
	assert.Equal(t, "INFY", got[1].Symbol)
}

func TestObserveOverflowGoesToRetryQueue(t *testing.T) {
	store := &flakyStore{}
	s := newService(t, store, Config{IntakeSize: 1, QueueSize: 10})

	for i := 0; i < 3; i++ {
		s.Observe(events.Event{Type: events.System, Message: "tick"})
	}
	assert.Equal(t, 3, s.Pending())

	require.NoError(t, s.Close(context.Background()))
	assert.Len(t, store.stored(), 3)
}

func TestCloseReportsUnwritten(t *testing.T) {
	store := &flakyStore{down: true}
	s := newService(t, store, Config{})

	_, err := s.Log(context.Background(), Entry{EventType: System})
	require.NoError(t, err)
	assert.Error(t, s.Close(context.Background()))
}

func TestQueryAndCleanup(t *testing.T) {
	store := &flakyStore{}
	s := newService(t, store, Config{Retention: 24 * time.Hour})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	old := now.Add(-48 * time.Hour)
	_, err := s.Log(ctx, Entry{EventType: TradeExecuted, Symbol: "INFY", Timestamp: old})
	require.NoError(t, err)
	_, err = s.Log(ctx, Entry{EventType: StopLossExecuted, Symbol: "INFY"})
	require.NoError(t, err)
	_, err = s.Log(ctx, Entry{EventType: StopLossExecuted, Symbol: "TCS"})
	require.NoError(t, err)

	got, err := s.Query(ctx, Filter{Symbol: "INFY"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, Filter{EventTypes: []EventType{StopLossExecuted}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err := s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, store.stored(), 2)
}

func TestFilterMatch(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{Timestamp: ts, EventType: PanicSell, Category: CategoryRisk, Symbol: "INFY", Severity: Warn}

	assert.True(t, Filter{}.Match(e))
	assert.True(t, Filter{From: ts, To: ts.Add(time.Second)}.Match(e))
	assert.False(t, Filter{To: ts}.Match(e), "To is exclusive")
	assert.False(t, Filter{From: ts.Add(time.Second)}.Match(e))
	assert.True(t, Filter{EventTypes: []EventType{System, PanicSell}}.Match(e))
	assert.False(t, Filter{EventTypes: []EventType{System}}.Match(e))
	assert.False(t, Filter{Category: CategoryTrading}.Match(e))
	assert.False(t, Filter{Symbol: "TCS"}.Match(e))
	assert.False(t, Filter{Severity: Error}.Match(e))
}

func TestParseEventType(t *testing.T) {
	for _, et := range EventTypes() {
		got, err := ParseEventType(string(et))
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}
	_, err := ParseEventType("STOP_LOSS_FAILED")
	assert.Error(t, err)
}

func TestIDsSortByCreation(t *testing.T) {
	ts := time.Now()
	a := NewID(ts)
	b := NewID(ts)
	assert.Less(t, a, b)
}
