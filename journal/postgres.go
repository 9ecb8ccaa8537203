package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rustyeddy/riskguard/audit"
)

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the audit table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	for _, stmt := range PostgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create audit schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Append(ctx context.Context, e audit.Entry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	var arg any
	if details != "" {
		arg = details
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO audit_log
		(id, ts, event_type, category, symbol, message, details, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp.UTC(), string(e.EventType), string(e.Category),
		e.Symbol, e.Message, arg, string(e.Severity),
	)
	return err
}

func (p *Postgres) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q, args := postgresDialect.buildQuery(f)
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			details []byte
			typ     string
			cat     string
			sev     string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &typ, &cat, &e.Symbol, &e.Message, &details, &sev); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.EventType = audit.EventType(typ)
		e.Category = audit.Category(cat)
		e.Severity = audit.Severity(sev)
		if e.Details, err = decodeDetails(details); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM audit_log WHERE ts < $1`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
