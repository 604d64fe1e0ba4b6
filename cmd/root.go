// Package cmd defines and implements the CLI commands for the shardkit
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/config"
	"github.com/JakeFAU/shardkit/internal/logging"
)

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// newRootCmd creates the root command. Every persistent flag is bound to v,
// so flags win over environment variables and the config file.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "shardkit",
		Short: "Consume sharded datasets with a pool of workers.",
		Long: `shardkit fans a sharded dataset out to a pool of workers, reports
live progress, and collects per-session statistics while it runs.`,
		SilenceUsage: true,

		// Runs before every subcommand: load configuration once and hand it
		// down through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./shardkit.yaml, $HOME/.shardkit or /etc/shardkit)")
	flags.Int("num-proc", 0, "maximum number of workers (default: number of CPUs)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human readable development logging")
	flags.Int("port", 0, "HTTP API port")
	bind(v, flags.Lookup("num-proc"), "consume.num_proc")
	bind(v, flags.Lookup("log-level"), "logging.level")
	bind(v, flags.Lookup("dev"), "logging.development")
	bind(v, flags.Lookup("port"), "server.port")

	cmd.AddCommand(newRunCmd(v), newServeCmd())
	return cmd
}

func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Error("command execution failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
