// Package cli wires the docbench commands.
package cli

import (
	"context"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	env        string
	logLevel   string
}

var rootOpts rootOptions

var rootCmd = &cobra.Command{
	Use:           "docbench",
	Short:         "docbench builds and scores multimodal document retrieval benchmarks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.configPath, "config", "c", "", "config file (default: config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.env, "env", "", "environment: local, dev, prod (default: $ENV or local)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.logLevel, "log-level", "", "override logging.level")
}

// withApp builds the composition root for a command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
