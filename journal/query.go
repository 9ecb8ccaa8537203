package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/riskguard/audit"
)

const selectColumns = `SELECT id, ts, event_type, category, symbol, message, details, severity FROM audit_log`

// dialect adapts queries to a SQL backend.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(time.Time) any
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UTC().UnixNano() },
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeArg:     func(t time.Time) any { return t.UTC() },
	}
)

// buildQuery renders f as a SELECT ordered newest first.
func (d dialect) buildQuery(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", d.placeholder(len(args)), 1))
	}

	if !f.From.IsZero() {
		add("ts >= ?", d.timeArg(f.From))
	}
	if !f.To.IsZero() {
		add("ts < ?", d.timeArg(f.To))
	}
	if len(f.EventTypes) > 0 {
		ph := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			args = append(args, string(t))
			ph[i] = d.placeholder(len(args))
		}
		conds = append(conds, "event_type IN ("+strings.Join(ph, ", ")+")")
	}
	if f.Category != "" {
		add("category = ?", string(f.Category))
	}
	if f.Symbol != "" {
		add("symbol = ?", f.Symbol)
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ts DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}
	return b.String(), args
}
