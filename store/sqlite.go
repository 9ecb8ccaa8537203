package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/riskguard/risk"
	"github.com/rustyeddy/riskguard/stoploss"
)

const schema = `
CREATE TABLE IF NOT EXISTS stop_losses (
	symbol TEXT PRIMARY KEY,
	entry_price REAL NOT NULL,
	stop_loss_price REAL NOT NULL,
	quantity REAL NOT NULL CHECK (quantity > 0),
	kind TEXT NOT NULL,
	trailing_percent REAL NOT NULL DEFAULT 0,
	high_water_mark REAL NOT NULL DEFAULT 0,
	halt_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const riskLimitsKey = "risk_limits"

// SQLite stores stop-loss configs and risk limits in one database file.
type SQLite struct {
	notifier
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

const selectConfig = `SELECT symbol, entry_price, stop_loss_price, quantity, kind,
	trailing_percent, high_water_mark, halt_reason, created_at, updated_at FROM stop_losses`

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (stoploss.Config, error) {
	var (
		c                stoploss.Config
		kind             string
		created, updated int64
	)
	err := row.Scan(&c.Symbol, &c.EntryPrice, &c.StopLossPrice, &c.Quantity, &kind,
		&c.TrailingPercent, &c.HighWaterMark, &c.HaltReason, &created, &updated)
	if err != nil {
		return stoploss.Config{}, err
	}
	c.Kind = stoploss.Kind(kind)
	c.CreatedAt = time.Unix(0, created).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return c, nil
}

func (s *SQLite) All(ctx context.Context) ([]stoploss.Config, error) {
	rows, err := s.db.QueryContext(ctx, selectConfig+` ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stoploss.Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, symbol string) (stoploss.Config, error) {
	c, err := scanConfig(s.db.QueryRowContext(ctx, selectConfig+` WHERE symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return stoploss.Config{}, stoploss.ErrNotFound
	}
	return c, err
}

func (s *SQLite) Save(ctx context.Context, c stoploss.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stop_losses
		(symbol, entry_price, stop_loss_price, quantity, kind, trailing_percent, high_water_mark, halt_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			entry_price = excluded.entry_price,
			stop_loss_price = excluded.stop_loss_price,
			quantity = excluded.quantity,
			kind = excluded.kind,
			trailing_percent = excluded.trailing_percent,
			high_water_mark = excluded.high_water_mark,
			halt_reason = excluded.halt_reason,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		c.Symbol, c.EntryPrice, c.StopLossPrice, c.Quantity, string(c.Kind),
		c.TrailingPercent, c.HighWaterMark, c.HaltReason, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLite) Delete(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stop_losses WHERE symbol = ?`, symbol)
	return err
}

func (s *SQLite) RiskLimits(ctx context.Context) (risk.Limits, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, riskLimitsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.DefaultLimits(), nil
	}
	if err != nil {
		return risk.Limits{}, err
	}
	var l risk.Limits
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return risk.Limits{}, fmt.Errorf("decode risk limits: %w", err)
	}
	return l, nil
}

func (s *SQLite) SaveRiskLimits(ctx context.Context, l risk.Limits) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		riskLimitsKey, string(raw), time.Now().UnixNano(),
	)
	if err != nil {
		return err
	}
	s.notify(l)
	return nil
}

func (s *SQLite) ResetToDefaults(ctx context.Context) error {
	return s.SaveRiskLimits(ctx, risk.DefaultLimits())
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
