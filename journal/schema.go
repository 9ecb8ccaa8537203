package journal

// Schema is the SQLite audit table. ts is Unix nanoseconds (UTC).
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	category TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
CREATE INDEX IF NOT EXISTS idx_audit_log_symbol ON audit_log(symbol);
`

// PostgresSchema is the Postgres audit table.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(40) NOT NULL,
		category VARCHAR(20) NOT NULL,
		symbol VARCHAR(32) NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		details JSONB,
		severity VARCHAR(8) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_symbol ON audit_log(symbol)`,
}
