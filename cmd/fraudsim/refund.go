package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-guard/internal/refund"
)

func (a *app) refundWindowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund-window",
		Short: "Show the refund countdown for an order",
		Example: `  fraudsim refund-window --category fresh --created-at 2026-10-18T09:30:00Z
  fraudsim refund-window --category electronics --created-at 2026-10-12T09:30:00Z --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			createdAt := time.Now()
			if s := a.v.GetString("created-at"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid --created-at: %w", err)
				}
				createdAt = t
			}
			status, err := refund.ParseStatus(a.v.GetString("status"))
			if err != nil {
				return err
			}

			order := refund.NewOrder("", a.v.GetString("category"), status, decimal.Zero, createdAt)
			view := order.View(time.Now())

			out := cmd.OutOrStdout()
			if a.v.GetBool("json") {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			fmt.Fprintf(out, "Window:    %s (%s)\n", view.Label, view.Policy)
			fmt.Fprintf(out, "Expires:   %s\n", view.ExpiresAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Remaining: %s\n", view.Remaining)
			fmt.Fprintf(out, "Eligible:  %t\n", view.Eligible)
			if view.Urgent {
				fmt.Fprintln(out, "Hurry, the fast refund window is about to close")
			}
			return nil
		},
	}

	cmd.Flags().String("category", "", "Product category (fresh, electronics, ...)")
	cmd.Flags().String("created-at", "", "Order time in RFC3339, defaults to now")
	cmd.Flags().String("status", string(refund.StatusDelivered), "Order status")
	cmd.Flags().Bool("json", false, "Print the window as JSON")

	return cmd
}
