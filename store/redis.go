package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/risk"
)

type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Key      string `yaml:"key" json:"key"`
	Channel  string `yaml:"channel" json:"channel"`
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// settingsMessage is published on every save so other processes can
// re-import the limits.
type settingsMessage struct {
	From   string      `json:"from"`
	Limits risk.Limits `json:"limits"`
}

// RedisSettings keeps risk limits under a Redis key and broadcasts saves on
// a pub/sub channel.
type RedisSettings struct {
	notifier
	client     *redis.Client
	key        string
	channel    string
	instanceID string
	log        zerolog.Logger
}

func NewRedisSettings(client *redis.Client, cfg RedisConfig, log zerolog.Logger) *RedisSettings {
	if cfg.Key == "" {
		cfg.Key = "riskguard:risk_limits"
	}
	if cfg.Channel == "" {
		cfg.Channel = "riskguard:settings"
	}
	return &RedisSettings{
		client:     client,
		key:        cfg.Key,
		channel:    cfg.Channel,
		instanceID: uuid.NewString(),
		log:        log.With().Str("component", "RedisSettings").Logger(),
	}
}

func (r *RedisSettings) RiskLimits(ctx context.Context) (risk.Limits, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return risk.DefaultLimits(), nil
	}
	if err != nil {
		return risk.Limits{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var l risk.Limits
	if err := json.Unmarshal(raw, &l); err != nil {
		return risk.Limits{}, fmt.Errorf("decode risk limits: %w", err)
	}
	return l, nil
}

func (r *RedisSettings) SaveRiskLimits(ctx context.Context, l risk.Limits) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	r.notify(l)

	msg, _ := json.Marshal(settingsMessage{From: r.instanceID, Limits: l})
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.log.Warn().Err(err).Msg("publish settings update")
	}
	return nil
}

func (r *RedisSettings) ResetToDefaults(ctx context.Context) error {
	return r.SaveRiskLimits(ctx, risk.DefaultLimits())
}

// Listen re-imports limits saved by other processes until ctx is done.
func (r *RedisSettings) Listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("listening for settings updates")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("settings channel closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisSettings) handle(payload string) {
	var m settingsMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.Warn().Err(err).Msg("bad settings message")
		return
	}
	if m.From == r.instanceID {
		return
	}
	r.log.Info().Str("from", m.From).Bool("circuit_broken", m.Limits.CircuitBroken).Msg("settings updated elsewhere")
	r.notify(m.Limits)
}

func (r *RedisSettings) Close() error {
	return r.client.Close()
}
