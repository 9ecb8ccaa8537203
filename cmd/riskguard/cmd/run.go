package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/riskguard/market"
	"github.com/rustyeddy/riskguard/replay"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk services over a tick feed",
	Long: `Run the stop-loss monitor, risk manager, indicators and audit log over
a CSV tick feed (time,symbol,price,volume,event,side,quantity,fill_price).

A file is replayed row by row. "-" streams rows from stdin and dispatches
ticks concurrently, as a live feed would.

Examples:
  riskguard run --ticks ticks.csv
  tail -f feed.csv | riskguard run --ticks -`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runTicks string
	runFrom  string
	runTo    string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTicks, "ticks", "t", "", "CSV tick feed, or - for stdin (required)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "skip rows before this RFC3339 time")
	runCmd.Flags().StringVar(&runTo, "to", "", "skip rows at or after this RFC3339 time")
	runCmd.MarkFlagRequired("ticks")
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func runRun(cmd *cobra.Command, args []string) error {
	from, err := parseBound(runFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(runTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if runTicks == "-" {
		feed := replay.NewFeed(os.Stdin, from, to)
		ticks := make(chan market.Tick, 64)
		fills := make(chan market.TradeConfirmation, 16)
		pctx, cancel := context.WithCancel(ctx)
		pumpErr := make(chan error, 1)
		go func() { pumpErr <- replay.Pump(pctx, feed, ticks, fills) }()

		err := a.Run(ctx, ticks, fills)
		cancel()
		if perr := <-pumpErr; perr != nil && !errors.Is(perr, context.Canceled) {
			return errors.Join(err, fmt.Errorf("read feed: %w", perr))
		}
		if err != nil {
			return err
		}
	} else {
		feed, err := replay.Open(runTicks, from, to)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer feed.Close()
		if err := a.Replay(ctx, feed); err != nil {
			return err
		}
	}

	return printStatus(ctx, cmd.OutOrStdout(), a)
}
