package journal

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/rustyeddy/riskguard/audit"
)

var csvHeader = []string{"id", "timestamp", "event_type", "category", "severity", "symbol", "message", "details"}

// WriteCSV writes entries with a header row. Details are JSON.
func WriteCSV(w io.Writer, entries []audit.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, e := range entries {
		details, err := encodeDetails(e.Details)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.EventType),
			string(e.Category),
			string(e.Severity),
			e.Symbol,
			e.Message,
			details,
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
