package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spreadbot-go/internal/config"
)

func initCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config with defaults to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(flags.configPath); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", flags.configPath)
			}
			cfg := &config.Config{
				Exchange: config.Exchange{Paper: true},
				Trading: config.Trading{
					Symbol:      "BTCUSDT",
					TradeAmount: 0.001,
					MinSpread:   0.1,
					MaxSpread:   1.0,
					MaxPosition: 0.005,
					Precision:   map[string]int{"BTCUSDT": 3, "ETHUSDT": 2},
				},
			}
			cfg.ApplyDefaults()
			if err := config.Save(flags.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set %s and %s before running\n",
				flags.configPath, config.EnvAPIKey, config.EnvAPISecret)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
