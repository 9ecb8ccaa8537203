package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rustyeddy/riskguard/internal/app"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show circuit breaker, P&L and active stop-losses",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	if statusJSON {
		configs, err := a.StopLoss.List(cmd.Context())
		if err != nil {
			return err
		}
		halted, err := a.StopLoss.Halted(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"risk":       a.Risk.Status(),
			"stop_loss":  configs,
			"halted":     halted,
			"audit_lost": a.Audit.Dropped(),
		})
	}
	return printStatus(cmd.Context(), cmd.OutOrStdout(), a)
}

func printStatus(ctx context.Context, out io.Writer, a *app.App) error {
	st := a.Risk.Status()
	fmt.Fprintf(out, "Circuit breaker: %s", st.State)
	if st.TripReason != "" {
		fmt.Fprintf(out, " (%s)", st.TripReason)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Daily P&L: %.2f (realized %.2f, unrealized %.2f, limit %.2f)\n",
		st.DailyPnL, st.Realized, st.Unrealized, st.LossLimit)

	configs, err := a.StopLoss.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Stop-losses: %d\n", len(configs))
	for _, c := range configs {
		fmt.Fprintf(out, "  %s\n", describeStop(c))
	}

	halted, err := a.StopLoss.Halted(ctx)
	if err != nil {
		return err
	}
	syms := make([]string, 0, len(halted))
	for s := range halted {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		fmt.Fprintf(out, "Halted: %s (%s)\n", s, halted[s])
	}
	return nil
}
