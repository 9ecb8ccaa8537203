package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/riskguard/audit"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Append(ctx context.Context, e audit.Entry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, ts, event_type, category, symbol, message, details, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().UnixNano(), string(e.EventType), string(e.Category),
		e.Symbol, e.Message, details, string(e.Severity),
	)
	return err
}

func (j *SQLite) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q, args := sqliteDialect.buildQuery(f)
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			ts      int64
			details string
		)
		if err := rows.Scan(&e.ID, &ts, &e.EventType, &e.Category, &e.Symbol, &e.Message, &details, &e.Severity); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if e.Details, err = decodeDetails([]byte(details)); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM audit_log WHERE ts < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
