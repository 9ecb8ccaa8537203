package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type GuardConfig struct {
	// MaxFatalFailures consecutive fatal errors open the guard.
	MaxFatalFailures uint32 `json:"max_fatal_failures" yaml:"max_fatal_failures"`
	// Cooldown is how long the guard stays open before probing again.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{MaxFatalFailures: 3, Cooldown: time.Minute}
}

// Guarded stops calling an executor that keeps failing fatally. Ordinary
// rejections pass through and do not count against it. While open, calls
// fail with ErrUnavailable, which is not fatal: callers keep retrying and
// the first call after Cooldown probes the executor.
type Guarded struct {
	next Executor
	cb   *gobreaker.CircuitBreaker
}

func NewGuarded(next Executor, cfg GuardConfig, log zerolog.Logger) *Guarded {
	if cfg.MaxFatalFailures == 0 {
		cfg.MaxFatalFailures = DefaultGuardConfig().MaxFatalFailures
	}
	log = log.With().Str("component", "ExecutionGuard").Logger()

	st := gobreaker.Settings{
		Name:        "executor",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFatalFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsFatal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("execution guard state changed")
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *Guarded) PlaceOrder(ctx context.Context, req OrderRequest) (Execution, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.PlaceOrder(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Execution{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return Execution{}, err
	}
	return out.(Execution), nil
}

// State returns "closed", "half-open" or "open".
func (g *Guarded) State() string {
	return g.cb.State().String()
}
