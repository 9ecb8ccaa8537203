package store

import (
	"context"
	"sync"

	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/stoploss"
)

// Memory is an in-process stop-loss and settings store.
type Memory struct {
	notifier

	mu      sync.RWMutex
	configs map[string]stoploss.Config
	limits  *risk.Limits
}

func NewMemory() *Memory {
	return &Memory{configs: make(map[string]stoploss.Config)}
}

func (m *Memory) All(context.Context) ([]stoploss.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stoploss.Config, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, symbol string) (stoploss.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[symbol]
	if !ok {
		return stoploss.Config{}, stoploss.ErrNotFound
	}
	return c, nil
}

func (m *Memory) Save(_ context.Context, c stoploss.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.Symbol] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, symbol)
	return nil
}

func (m *Memory) RiskLimits(context.Context) (risk.Limits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.limits == nil {
		return risk.DefaultLimits(), nil
	}
	return *m.limits, nil
}

func (m *Memory) SaveRiskLimits(_ context.Context, l risk.Limits) error {
	m.mu.Lock()
	m.limits = &l
	m.mu.Unlock()
	m.notify(l)
	return nil
}

func (m *Memory) ResetToDefaults(ctx context.Context) error {
	return m.SaveRiskLimits(ctx, risk.DefaultLimits())
}
