// Package store persists stop-loss configs and risk limits.
package store

import (
	"sync"

	"github.com/rustyeddy/riskguard/risk"
)

// notifier fans settings updates out to OnUpdate listeners.
type notifier struct {
	mu        sync.RWMutex
	listeners []func(risk.Limits)
}

func (n *notifier) OnUpdate(fn func(risk.Limits)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *notifier) notify(l risk.Limits) {
	n.mu.RLock()
	ls := append([]func(risk.Limits){}, n.listeners...)
	n.mu.RUnlock()
	for _, fn := range ls {
		fn(l)
	}
}
