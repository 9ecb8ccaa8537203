package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskguard/audit"
)

// Memory keeps entries in process. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Query(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	m.mu.RLock()
	var out []audit.Entry
	for _, e := range m.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.Timestamp.Before(olderThan) {
			kept = append(kept, e)
		}
	}
	n := int64(len(m.entries) - len(kept))
	m.entries = kept
	return n, nil
}

func (m *Memory) Close() error { return nil }
