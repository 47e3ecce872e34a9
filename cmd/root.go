package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/adaptive-router/config"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	serveCmd := newServeCmd(opts)

	cmd := &cobra.Command{
		Use:           "adaptive-router",
		Short:         "Adaptive load balancer that learns which flaky backends to trust",
		SilenceUsage: true,
		// Without a subcommand the router serves with default flags.
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(serveCmd, args)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: config/config.yaml or ./config.yaml)")

	cmd.AddCommand(serveCmd, newStrategiesCmd(), newHarnessCmd())

	return cmd
}

// loadConfig reads configuration and applies command-line overrides.
func (o *rootOptions) loadConfig(strategyOverride string) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}

	if strategyOverride != "" {
		cfg.Strategy.Type = strategyOverride
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, nil
}
