package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/riskguard/risk"
	"github.com/spf13/cobra"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Inspect and change risk limits and the circuit breaker",
	Long: `Inspect and change the persisted risk limits and circuit breaker.

Examples:
  riskguard risk show
  riskguard risk set --max-daily-loss 2500 --max-open-positions 5
  riskguard risk trip --reason "exchange outage"
  riskguard risk reset`,
}

var riskShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show limits and breaker state",
	Args:  cobra.NoArgs,
	RunE:  runRiskShow,
}

var riskResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset daily counters and close the circuit breaker",
	Args:  cobra.NoArgs,
	RunE:  runRiskReset,
}

var riskTripCmd = &cobra.Command{
	Use:   "trip",
	Short: "Open the circuit breaker",
	Args:  cobra.NoArgs,
	RunE:  runRiskTrip,
}

var riskSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change risk limits; unspecified limits keep their value",
	Args:  cobra.NoArgs,
	RunE:  runRiskSet,
}

var (
	riskTripReason string
	riskDefaults   bool

	riskMaxDailyLoss        float64
	riskMaxDailyLossPercent float64
	riskMaxPositionSize     float64
	riskMaxOpenPositions    int
	riskStopLossPercent     float64
)

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.AddCommand(riskShowCmd)
	riskCmd.AddCommand(riskResetCmd)
	riskCmd.AddCommand(riskTripCmd)
	riskCmd.AddCommand(riskSetCmd)

	riskTripCmd.Flags().StringVar(&riskTripReason, "reason", "manual trip", "why the breaker was opened")

	f := riskSetCmd.Flags()
	f.BoolVar(&riskDefaults, "defaults", false, "start from the default limits")
	f.Float64Var(&riskMaxDailyLoss, "max-daily-loss", 0, "absolute daily loss limit")
	f.Float64Var(&riskMaxDailyLossPercent, "max-daily-loss-percent", 0, "daily loss limit as percent of capital")
	f.Float64Var(&riskMaxPositionSize, "max-position-size", 0, "max notional per order")
	f.IntVar(&riskMaxOpenPositions, "max-open-positions", 0, "max open positions")
	f.Float64Var(&riskStopLossPercent, "stop-loss-percent", 0, "default stop distance in percent")
}

func runRiskShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a.Risk.Status())
}

func runRiskReset(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.ResetDay(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "daily counters reset, circuit breaker CLOSED")
	return nil
}

func runRiskTrip(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Risk.TripBreaker(cmd.Context(), riskTripReason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "circuit breaker OPEN: %s\n", riskTripReason)
	return nil
}

func runRiskSet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	l := a.Risk.Limits()
	if riskDefaults {
		l = risk.DefaultLimits()
	}
	f := cmd.Flags()
	if f.Changed("max-daily-loss") {
		l.MaxDailyLoss = riskMaxDailyLoss
	}
	if f.Changed("max-daily-loss-percent") {
		l.MaxDailyLossPercent = riskMaxDailyLossPercent
	}
	if f.Changed("max-position-size") {
		l.MaxPositionSize = riskMaxPositionSize
	}
	if f.Changed("max-open-positions") {
		l.MaxOpenPositions = riskMaxOpenPositions
	}
	if f.Changed("stop-loss-percent") {
		l.StopLossPercent = riskStopLossPercent
	}

	if err := a.Risk.SaveLimits(cmd.Context(), l); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a.Risk.Limits())
}
