package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/riskguard/audit"
	"github.com/rustyeddy/riskguard/journal"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, export and clean up the audit log",
	Long: `Query and maintain the audit log.

Subcommands:
  query   - Print matching entries, newest first
  export  - Write matching entries to a file as csv, org or json
  cleanup - Delete entries older than the retention period

Examples:
  riskguard audit query --symbol INFY --type STOP_LOSS_EXECUTED
  riskguard audit query --day 2026-03-02 --format org
  riskguard audit export --format csv -o audit.csv
  riskguard audit cleanup --older-than 720h`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print matching audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditQuery,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditExport,
}

var auditCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditCleanup,
}

var (
	auditFrom      string
	auditTo        string
	auditDay       string
	auditTypes     []string
	auditCategory  string
	auditSymbol    string
	auditSeverity  string
	auditLimit     int
	auditQueryFmt  string
	auditExportFmt string
	auditOutput    string
	auditOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditCleanupCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		f := c.Flags()
		f.StringVar(&auditFrom, "from", "", "entries at or after this RFC3339 time")
		f.StringVar(&auditTo, "to", "", "entries before this RFC3339 time")
		f.StringVar(&auditDay, "day", "", "entries on this local day (YYYY-MM-DD)")
		f.StringSliceVar(&auditTypes, "type", nil, "event types, repeatable")
		f.StringVar(&auditCategory, "category", "", "trading|stop_loss|risk|settings|system")
		f.StringVar(&auditSymbol, "symbol", "", "symbol")
		f.StringVar(&auditSeverity, "severity", "", "info|warn|error")
		f.IntVar(&auditLimit, "limit", 0, "max entries, 0 for all")
	}
	auditQueryCmd.Flags().StringVarP(&auditQueryFmt, "format", "F", "text", "text|org|csv|json")
	auditExportCmd.Flags().StringVarP(&auditExportFmt, "format", "F", "csv", "csv|org|json")
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "output file (required)")
	auditExportCmd.MarkFlagRequired("output")
	auditCleanupCmd.Flags().DurationVar(&auditOlderThan, "older-than", 0, "age cutoff; 0 uses audit.retention")
}

func auditFilter() (audit.Filter, error) {
	f := audit.Filter{
		Category: audit.Category(strings.ToLower(auditCategory)),
		Symbol:   strings.ToUpper(auditSymbol),
		Severity: audit.Severity(strings.ToLower(auditSeverity)),
		Limit:    auditLimit,
	}
	var err error
	if f.From, err = parseBound(auditFrom); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseBound(auditTo); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	if auditDay != "" {
		if f.From, f.To, err = dayBounds(time.Local, auditDay); err != nil {
			return f, fmt.Errorf("--day: %w", err)
		}
	}
	for _, s := range auditTypes {
		t, err := audit.ParseEventType(s)
		if err != nil {
			return f, err
		}
		f.EventTypes = append(f.EventTypes, t)
	}
	return f, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}

func queryAudit(cmd *cobra.Command) ([]audit.Entry, error) {
	f, err := auditFilter()
	if err != nil {
		return nil, err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer closeApp(a)
	return a.Audit.Query(cmd.Context(), f)
}

func writeEntries(w io.Writer, format string, entries []audit.Entry) error {
	switch strings.ToLower(format) {
	case "text":
		for _, e := range entries {
			fmt.Fprintf(w, "%s  %-5s %-26s %-10s %s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Severity, e.EventType, e.Symbol, e.Message)
		}
		return nil
	case "org":
		_, err := io.WriteString(w, journal.FormatEntriesOrg(entries))
		return err
	case "csv":
		return journal.WriteCSV(w, entries)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return fmt.Errorf("unknown format %q", format)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	entries, err := queryAudit(cmd)
	if err != nil {
		return err
	}
	return writeEntries(cmd.OutOrStdout(), auditQueryFmt, entries)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	entries, err := queryAudit(cmd)
	if err != nil {
		return err
	}
	f, err := os.Create(auditOutput)
	if err != nil {
		return fmt.Errorf("create %s: %w", auditOutput, err)
	}
	if err := writeEntries(f, auditExportFmt, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", len(entries), auditOutput)
	return nil
}

func runAuditCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	n, err := a.Audit.Cleanup(cmd.Context(), auditOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d audit entries\n", n)
	return nil
}
