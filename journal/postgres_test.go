package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rustyeddy/riskguard/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("RISKGUARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RISKGUARD_TEST_POSTGRES_DSN not set")
	}
	p, err := NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	_, err = p.pool.Exec(context.Background(), `TRUNCATE audit_log`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgresRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)

	e := entry("01A", t0, audit.StopLossExecuted, "INFY")
	e.Details = map[string]any{"fill_price": 96.5}
	require.NoError(t, p.Append(ctx, e))
	require.NoError(t, p.Append(ctx, entry("01B", t0.Add(time.Minute), audit.System, "")))

	got, err := p.Query(ctx, audit.Filter{Symbol: "INFY"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, t0.Equal(got[0].Timestamp))
	assert.Equal(t, 96.5, got[0].Details["fill_price"])

	n, err := p.Cleanup(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
