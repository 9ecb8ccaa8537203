package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rustyeddy/riskguard/audit"
	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/indicators"
	"github.com/rustyeddy/riskguard/logging"
	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/store"
	"gopkg.in/yaml.v3"
)

// Config is the complete riskguard process configuration.
type Config struct {
	Risk       RiskConfig             `json:"risk" yaml:"risk"`
	StopLoss   StopLossConfig         `json:"stop_loss" yaml:"stop_loss"`
	Indicators indicators.SuiteConfig `json:"indicators" yaml:"indicators"`
	Audit      audit.Config           `json:"audit" yaml:"audit"`
	Storage    StorageConfig          `json:"storage" yaml:"storage"`
	Broker     broker.GuardConfig     `json:"broker" yaml:"broker"`
	Log        logging.Config         `json:"log" yaml:"log"`
	Metrics    MetricsConfig          `json:"metrics" yaml:"metrics"`
	Schedule   ScheduleConfig         `json:"schedule" yaml:"schedule"`
}

type RiskConfig struct {
	// Capital enables the percentage daily loss limit when > 0.
	Capital float64 `json:"capital" yaml:"capital"`
	// Limits, when set, are saved to the settings store at startup.
	Limits *risk.Limits `json:"limits,omitempty" yaml:"limits,omitempty"`
	// PnLInterval is how often unrealized P&L is recomputed.
	PnLInterval time.Duration `json:"pnl_interval" yaml:"pnl_interval"`
	// LiquidateOnTrip sells every protected position when the breaker opens.
	LiquidateOnTrip bool `json:"liquidate_on_trip" yaml:"liquidate_on_trip"`
}

type StopLossConfig struct {
	Precision int32 `json:"precision" yaml:"precision"`
}

// StorageConfig selects the backends.
//
//	state:    sqlite | memory      stop-loss configs (and settings when settings=local)
//	settings: local | redis
//	audit:    sqlite | postgres | memory
type StorageConfig struct {
	State       string            `json:"state" yaml:"state"`
	StatePath   string            `json:"state_path,omitempty" yaml:"state_path,omitempty"`
	Settings    string            `json:"settings" yaml:"settings"`
	Redis       store.RedisConfig `json:"redis" yaml:"redis"`
	Audit       string            `json:"audit" yaml:"audit"`
	AuditPath   string            `json:"audit_path,omitempty" yaml:"audit_path,omitempty"`
	PostgresDSN string            `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables the listener.
	Addr string `json:"addr" yaml:"addr"`
}

// ScheduleConfig holds standard 5-field cron specs; empty disables a job.
type ScheduleConfig struct {
	DailyReset   string `json:"daily_reset" yaml:"daily_reset"`
	AuditCleanup string `json:"audit_cleanup" yaml:"audit_cleanup"`
	Timezone     string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

func Default() *Config {
	return &Config{
		Risk: RiskConfig{
			PnLInterval: 5 * time.Second,
		},
		StopLoss:   StopLossConfig{Precision: 2},
		Indicators: indicators.DefaultSuiteConfig(),
		Audit:      audit.DefaultConfig(),
		Storage: StorageConfig{
			State:     "sqlite",
			StatePath: "riskguard.db",
			Settings:  "local",
			Redis:     store.RedisConfig{Address: "localhost:6379"},
			Audit:     "sqlite",
			AuditPath: "audit.db",
		},
		Broker:  broker.DefaultGuardConfig(),
		Log:     logging.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9090"},
		Schedule: ScheduleConfig{
			DailyReset:   "0 0 * * *",
			AuditCleanup: "30 3 * * *",
		},
	}
}

// LoadFromFile loads configuration over Default(). YAML is tried first,
// then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Location resolves Schedule.Timezone; empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

func (c *Config) Validate() error {
	if c.Risk.Capital < 0 {
		return fmt.Errorf("risk.capital must be >= 0")
	}
	if c.Risk.Limits != nil {
		if err := c.Risk.Limits.Validate(); err != nil {
			return fmt.Errorf("risk.limits: %w", err)
		}
	}
	if c.Risk.PnLInterval < 0 {
		return fmt.Errorf("risk.pnl_interval must be >= 0")
	}
	if c.StopLoss.Precision < 0 || c.StopLoss.Precision > 8 {
		return fmt.Errorf("stop_loss.precision must be within [0,8]")
	}
	if _, err := indicators.NewSuite(c.Indicators); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit.queue_size must be positive")
	}
	if c.Audit.IntakeSize <= 0 {
		return fmt.Errorf("audit.intake_size must be positive")
	}
	if c.Audit.RetryBackoff <= 0 {
		return fmt.Errorf("audit.retry_backoff must be positive")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Broker.MaxFatalFailures == 0 {
		return fmt.Errorf("broker.max_fatal_failures must be positive")
	}
	if c.Broker.Cooldown <= 0 {
		return fmt.Errorf("broker.cooldown must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}
	for name, spec := range map[string]string{
		"schedule.daily_reset":   c.Schedule.DailyReset,
		"schedule.audit_cleanup": c.Schedule.AuditCleanup,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.State {
	case "memory":
	case "sqlite":
		if s.StatePath == "" {
			return fmt.Errorf("storage.state_path required for sqlite state")
		}
	default:
		return fmt.Errorf("storage.state must be 'sqlite' or 'memory'")
	}
	switch s.Settings {
	case "", "local":
	case "redis":
		if s.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address required for redis settings")
		}
	default:
		return fmt.Errorf("storage.settings must be 'local' or 'redis'")
	}
	switch s.Audit {
	case "memory":
	case "sqlite":
		if s.AuditPath == "" {
			return fmt.Errorf("storage.audit_path required for sqlite audit")
		}
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres audit")
		}
	default:
		return fmt.Errorf("storage.audit must be 'sqlite', 'postgres' or 'memory'")
	}
	return nil
}
