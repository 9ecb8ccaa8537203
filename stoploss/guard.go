package stoploss

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// inflight is the set of symbols with a tick decision in progress.
type inflight struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{set: make(map[string]struct{})}
}

// acquire marks symbol busy, returning false if it already was.
func (f *inflight) acquire(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.set[symbol]; busy {
		return false
	}
	f.set[symbol] = struct{}{}
	return true
}

func (f *inflight) release(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, symbol)
}

// keyedQueue runs tasks one at a time per key, in enqueue order. A key's
// entry is dropped once its tasks drain.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func newKeyedQueue(log zerolog.Logger) *keyedQueue {
	return &keyedQueue{pending: make(map[string][]func()), log: log}
}

func (q *keyedQueue) enqueue(key string, task func()) {
	q.wg.Add(1)

	q.mu.Lock()
	if tasks, running := q.pending[key]; running {
		q.pending[key] = append(tasks, task)
		q.mu.Unlock()
		return
	}
	q.pending[key] = nil
	q.mu.Unlock()

	go q.drain(key, task)
}

func (q *keyedQueue) drain(key string, task func()) {
	for {
		q.run(key, task)

		q.mu.Lock()
		tasks := q.pending[key]
		if len(tasks) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		task = tasks[0]
		q.pending[key] = tasks[1:]
		q.mu.Unlock()
	}
}

func (q *keyedQueue) run(key string, task func()) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("symbol", key).Str("panic", fmt.Sprint(r)).Msg("queued task panicked")
		}
	}()
	task()
}

// keys is the number of keys with queued or running tasks.
func (q *keyedQueue) keys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *keyedQueue) wait() {
	q.wg.Wait()
}

// symbolLocks serializes store read-modify-write per symbol.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *symbolLocks) lock(symbol string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
