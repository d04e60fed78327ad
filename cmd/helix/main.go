// Command helix runs the HELIX orchestration core: the state store
// migration, the per-agent worker fleet, and manual job submission for
// operators. See internal/domain/helix for the data model this binary
// drives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"helix/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "helix",
		Short: "HELIX multi-agent orchestration core",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "helix.yaml", "path to the HELIX config file")

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newSubmitCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.WithFile(configPath), config.WithEnv())
}
