package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/riskguard/audit"
)

// FormatEntryOrg renders an entry as an Org-mode heading with the
// structured fields in a PROPERTIES drawer.
func FormatEntryOrg(e audit.Entry) string {
	heading := fmt.Sprintf("** %s %s", strings.ToUpper(string(e.Severity)), e.EventType)
	if e.Symbol != "" {
		heading += " " + e.Symbol
	}

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", e.ID))
	b.WriteString(fmt.Sprintf(":TIME: %s\n", e.Timestamp.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":CATEGORY: %s\n", e.Category))
	if e.Symbol != "" {
		b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", e.Symbol))
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s: %v\n", strings.ToUpper(k), e.Details[k]))
	}
	b.WriteString(":END:\n")
	if e.Message != "" {
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatEntriesOrg renders entries separated by blank lines.
func FormatEntriesOrg(entries []audit.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatEntryOrg(e))
	}
	return b.String()
}
