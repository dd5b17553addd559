// Command fraudsim drives a storefront-guard server and the fraud backend from
// the terminal: OTP round trips, location simulations, refund windows and the
// event stream.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storefront-guard/internal/util"
)

var Version = "dev"

const envPrefix = "FRAUDSIM"

// app carries the settings shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "fraudsim",
		Short:         "fraudsim - exercise storefront-guard and the fraud backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			a.logger = util.Init("development", a.v.GetString("log-level"), "console")
			return nil
		},
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "storefront-guard base URL")
	flags.Duration("timeout", 10*time.Second, "HTTP request timeout")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	_ = a.v.BindPFlags(flags)

	rootCmd.AddCommand(a.otpCmd())
	rootCmd.AddCommand(a.simulateCmd())
	rootCmd.AddCommand(a.refundWindowCmd())
	rootCmd.AddCommand(a.eventsCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
