package journal

import (
	"testing"
	"time"

	"github.com/rustyeddy/riskguard/audit"
	"github.com/stretchr/testify/assert"
)

func TestBuildQuerySQLite(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := sqliteDialect.buildQuery(audit.Filter{
		From:       from,
		EventTypes: []audit.EventType{audit.PanicSell, audit.System},
		Symbol:     "INFY",
		Limit:      10,
	})

	assert.Equal(t, selectColumns+" WHERE ts >= ? AND event_type IN (?, ?) AND symbol = ? ORDER BY ts DESC, id DESC LIMIT 10", q)
	assert.Equal(t, []any{from.UnixNano(), "PANIC_SELL", "SYSTEM", "INFY"}, args)
}

func TestBuildQueryPostgres(t *testing.T) {
	to := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	q, args := postgresDialect.buildQuery(audit.Filter{
		To:         to,
		EventTypes: []audit.EventType{audit.PanicSell},
		Severity:   audit.Error,
	})

	assert.Equal(t, selectColumns+" WHERE ts < $1 AND event_type IN ($2) AND severity = $3 ORDER BY ts DESC, id DESC", q)
	assert.Equal(t, []any{to, "PANIC_SELL", "error"}, args)
}

func TestBuildQueryEmpty(t *testing.T) {
	q, args := sqliteDialect.buildQuery(audit.Filter{})
	assert.Equal(t, selectColumns+" ORDER BY ts DESC, id DESC", q)
	assert.Empty(t, args)
}
