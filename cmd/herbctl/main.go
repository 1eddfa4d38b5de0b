// herbctl inspects herbtrace batch logs and reconciles them with the ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/herbtrace/internal/config"
	"github.com/JaimeStill/herbtrace/internal/infrastructure"
)

var (
	configPath string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "herbctl",
	Short:         "Inspect herb batch provenance logs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: HERBTRACE_CONFIG or ./config.toml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Write JSON instead of a table")

	rootCmd.AddCommand(timelineCmd, pendingCmd, verifyCmd, profilesCmd)
}

// withInfra loads configuration, starts the infrastructure and runs fn.
// Shutdown waits for any background work fn started.
func withInfra(cmd *cobra.Command, fn func(ctx context.Context, infra *infrastructure.Infrastructure) error) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	infra, err := infrastructure.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := infra.Start(); err != nil {
		return err
	}
	infra.Lifecycle.WaitForStartup()
	defer infra.Lifecycle.Shutdown(10 * time.Second)

	return fn(ctx, infra)
}
