// Command arcmeter runs the ArcMeter facilitator, seller and buyer agent, and
// pays for single requests from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raid-guild/arcmeter-go/config"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "arcmeter",
		Short:         "ArcMeter - x402 pay-per-request demo",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")

	// Add subcommands
	rootCmd.AddCommand(facilitatorCmd())
	rootCmd.AddCommand(sellerCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(payCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadConfig loads the configuration named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
