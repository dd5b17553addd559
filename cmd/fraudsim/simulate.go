package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-guard/internal/config"
	"storefront-guard/internal/fraudx"
	"storefront-guard/internal/simulation"
)

func (a *app) simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <orderID>",
		Short: "Stream location pings for an order to the fraud backend until interrupted",
		Long: `Runs one location simulation in this process against the fraud backend.
Modes: normal, fast, teleport, geoMismatch. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := simulation.ParseMode(a.v.GetString("mode"))
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(a.v.GetString("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runSimulation(ctx, cmd.OutOrStdout(), args[0], mode, amount)
		},
	}

	cmd.Flags().String("mode", string(simulation.ModeNormal), "Simulation mode")
	cmd.Flags().String("amount", "0", "Order amount sent with each ping")
	cmd.Flags().String("backend", "", "Fraud backend URL (defaults to SERVER_URL)")

	return cmd
}

// runSimulation blocks until ctx is done, printing every ping outcome.
func (a *app) runSimulation(ctx context.Context, w io.Writer, id string, mode simulation.Mode, amount decimal.Decimal) error {
	out := &lockedWriter{w: w}
	fx := config.LoadConfig().FraudX
	if backend := a.v.GetString("backend"); backend != "" {
		fx.ServerURL = strings.TrimRight(backend, "/")
	}

	pinger := fraudx.NewClient(fraudx.Config{
		ServerURL:           fx.ServerURL,
		PingEndpoint:        fx.PingEndpoint,
		ResetEndpoint:       fx.ResetEndpoint,
		SetDeliveryEndpoint: fx.SetDeliveryEndpoint,
		Timeout:             a.v.GetDuration("timeout"),
	}, a.logger.Named("fraudx"))

	sched := simulation.NewScheduler(pinger, simulation.Config{
		MinInterval:      fx.MinInterval,
		MaxInterval:      fx.MaxInterval,
		MismatchInterval: fx.MismatchInterval,
		PingTimeout:      a.v.GetDuration("timeout"),
	}, a.logger.Named("simulation"), simulation.WithObserver(func(o simulation.Outcome) {
		fmt.Fprintln(out, formatOutcome(o))
	}))

	if err := sched.Start(id, mode, amount); err != nil {
		return err
	}
	fmt.Fprintf(out, "simulating %s (%s, amount %s) against %s, Ctrl-C to stop\n", id, mode, amount, fx.ServerURL)

	<-ctx.Done()
	st, _ := sched.Status(id)
	sched.Stop(id)
	fmt.Fprintf(out, "stopped after %d pings (%d failed)\n", st.Pings, st.Failures)
	return nil
}

func formatOutcome(o simulation.Outcome) string {
	prefix := fmt.Sprintf("#%d %s (%.4f, %.4f)", o.Seq, o.Waypoint.Name, o.Waypoint.Lat, o.Waypoint.Lon)
	switch {
	case o.Err != nil:
		return prefix + " error: " + o.Err.Error()
	case o.Result == nil:
		return prefix + " ok"
	}

	s := prefix + " ok"
	if len(o.Result.FraudTypes) > 0 {
		s += " fraud=" + strings.Join(o.Result.FraudTypes, ",")
	}
	if o.Result.Speed != nil {
		s += fmt.Sprintf(" speed=%.1f", *o.Result.Speed)
	}
	return s
}

// lockedWriter serializes writes from the simulation goroutine and the
// command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
