// services/archiver/cmd/archiver/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/shutdown"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/app"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/config"
)

type rootFlags struct {
	configPath  string
	printConfig bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "archiver",
		Short:         "Archive broker timeline events and documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindRootFlags(root.PersistentFlags(), &flags)
	root.AddCommand(newArchiveCmd(&flags), newQuoteCmd(&flags))
	return root
}

func bindRootFlags(fs *pflag.FlagSet, flags *rootFlags) {
	fs.StringVar(&flags.configPath, "config", "", "path to config file (env ARCHIVER_* overrides)")
	fs.BoolVar(&flags.printConfig, "print-config", false, "print the effective configuration before running")
}

// setup loads config, builds the logger and a signal-aware context.
func setup(cmd *cobra.Command, flags *rootFlags) (context.Context, context.CancelFunc, *config.Config, *logger.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("config error: %w", err)
	}
	if flags.printConfig {
		if err := cfg.Print(cmd.OutOrStdout()); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("logger init error: %w", err)
	}
	ctx, cancel := shutdown.NotifyContext(cmd.Context(), log.Zap())
	return ctx, cancel, cfg, log.Named(cfg.ServiceName), nil
}

func newArchiveCmd(flags *rootFlags) *cobra.Command {
	var lastDays int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Walk the timeline, fetch details and download documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, cfg, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			if cmd.Flags().Changed("last-days") {
				cfg.Timeline.LastDays = lastDays
			}
			return app.Run(ctx, cfg, log)
		},
	}
	cmd.Flags().IntVar(&lastDays, "last-days", 0, "only archive events of the last N days (0 = all)")
	return cmd
}

func newQuoteCmd(flags *rootFlags) *cobra.Command {
	var (
		exchange string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "quote ISIN",
		Short: "Print one ticker snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			resp, err := app.Quote(ctx, cfg, args[0], exchange, timeout, log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(resp.Payload))
			return err
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "LSX", "exchange suffix of the instrument id")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the snapshot")
	return cmd
}
