package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rustyeddy/riskguard/stoploss"
	"github.com/spf13/cobra"
)

var stoplossCmd = &cobra.Command{
	Use:     "stoploss",
	Aliases: []string{"sl"},
	Short:   "Manage stop-loss configurations",
	Long: `List, set and remove the stop-loss protecting each long position.

Examples:
  riskguard stoploss list
  riskguard stoploss set INFY --entry 100 --qty 10
  riskguard stoploss set INFY --entry 100 --qty 10 --trailing 5
  riskguard stoploss remove INFY
  riskguard stoploss resume INFY
  riskguard stoploss reconcile INFY=10 TCS=4`,
}

var stoplossListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active stop-losses",
	Args:  cobra.NoArgs,
	RunE:  runStoplossList,
}

var stoplossSetCmd = &cobra.Command{
	Use:   "set <symbol>",
	Short: "Create or replace the stop-loss for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoplossSet,
}

var stoplossRemoveCmd = &cobra.Command{
	Use:   "remove <symbol>",
	Short: "Remove the stop-loss for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoplossRemove,
}

var stoplossResumeCmd = &cobra.Command{
	Use:   "resume <symbol>",
	Short: "Re-enable automatic liquidation halted by a fatal broker error",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoplossResume,
}

var stoplossReconcileCmd = &cobra.Command{
	Use:   "reconcile [SYMBOL=QTY ...]",
	Short: "Align stop-losses with the broker's long positions",
	Long: `Reconcile compares the stop-losses with the quantities the broker
reports. Stops for symbols not listed are removed, quantities that differ
are corrected, and listed positions without a stop are reported.`,
	RunE: runStoplossReconcile,
}

var (
	slEntry    float64
	slQty      float64
	slStop     float64
	slTrailing float64
)

func init() {
	rootCmd.AddCommand(stoplossCmd)
	stoplossCmd.AddCommand(stoplossListCmd)
	stoplossCmd.AddCommand(stoplossSetCmd)
	stoplossCmd.AddCommand(stoplossRemoveCmd)
	stoplossCmd.AddCommand(stoplossResumeCmd)
	stoplossCmd.AddCommand(stoplossReconcileCmd)

	stoplossSetCmd.Flags().Float64Var(&slEntry, "entry", 0, "entry price (required)")
	stoplossSetCmd.Flags().Float64Var(&slQty, "qty", 0, "quantity (required)")
	stoplossSetCmd.Flags().Float64Var(&slStop, "stop", 0, "stop price; default derives from the stop-loss percent")
	stoplossSetCmd.Flags().Float64Var(&slTrailing, "trailing", 0, "trailing percent; makes the stop TRAILING")
	stoplossSetCmd.MarkFlagRequired("entry")
	stoplossSetCmd.MarkFlagRequired("qty")
}

func describeStop(c stoploss.Config) string {
	s := fmt.Sprintf("%-10s %-8s qty=%v entry=%.2f stop=%.2f", c.Symbol, c.Kind, c.Quantity, c.EntryPrice, c.StopLossPrice)
	if c.Kind == stoploss.Trailing {
		s += fmt.Sprintf(" trail=%.2f%% hwm=%.2f", c.TrailingPercent, c.HighWaterMark)
	}
	if c.HaltReason != "" {
		s += " HALTED: " + c.HaltReason
	}
	return s
}

func runStoplossList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	configs, err := a.StopLoss.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(configs) == 0 {
		fmt.Fprintln(out, "no active stop-losses")
		return nil
	}
	for _, c := range configs {
		fmt.Fprintln(out, describeStop(c))
	}
	return nil
}

func runStoplossSet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	p := stoploss.Params{
		EntryPrice:    slEntry,
		Quantity:      slQty,
		StopLossPrice: slStop,
	}
	if slTrailing > 0 {
		p.Kind = stoploss.Trailing
		p.TrailingPercent = slTrailing
	}
	c, err := a.StopLoss.SetStopLoss(cmd.Context(), strings.ToUpper(args[0]), p)
	if err != nil {
		return fmt.Errorf("set stop loss: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeStop(c))
	return nil
}

func runStoplossRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	sym := strings.ToUpper(args[0])
	if err := a.StopLoss.RemoveStopLoss(cmd.Context(), sym); err != nil {
		return fmt.Errorf("remove %s: %w", sym, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed stop-loss for %s\n", sym)
	return nil
}

func runStoplossResume(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	sym := strings.ToUpper(args[0])
	if err := a.StopLoss.Resume(cmd.Context(), sym); err != nil {
		return fmt.Errorf("resume %s: %w", sym, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resumed auto-liquidation for %s\n", sym)
	return nil
}

func parsePositions(args []string) (map[string]float64, error) {
	positions := make(map[string]float64, len(args))
	for _, arg := range args {
		sym, qty, ok := strings.Cut(arg, "=")
		if !ok || sym == "" {
			return nil, fmt.Errorf("position %q: want SYMBOL=QTY", arg)
		}
		q, err := strconv.ParseFloat(qty, 64)
		if err != nil || q < 0 {
			return nil, fmt.Errorf("position %q: bad quantity", arg)
		}
		positions[strings.ToUpper(sym)] = q
	}
	return positions, nil
}

func runStoplossReconcile(cmd *cobra.Command, args []string) error {
	positions, err := parsePositions(args)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	rep, err := a.Reconcile(cmd.Context(), positions)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "removed: %s\n", strings.Join(rep.Removed, " "))
	fmt.Fprintf(out, "adjusted: %s\n", strings.Join(rep.Adjusted, " "))
	fmt.Fprintf(out, "unprotected: %s\n", strings.Join(rep.Unprotected, " "))
	return nil
}
