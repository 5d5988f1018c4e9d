package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/signal"
)

func checkCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate config and test signed connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			market := exchange.NewMarket(newClient(cfg, log))
			out := cmd.OutOrStdout()
			if err := market.Ping(ctx); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Fprintf(out, "connection ok: %s\n", cfg.Exchange.BaseURL)

			balance, err := market.GetWalletBalance(ctx)
			if err == nil {
				fmt.Fprintf(out, "wallet total %.2f, available per trade %.2f\n", balance.Total, balance.Available)
			}
			for _, segment := range []signal.Segment{signal.Spot, signal.Derivative} {
				quote, err := market.GetPrice(ctx, cfg.Trading.Symbol, segment)
				if err != nil {
					fmt.Fprintf(out, "%-10s %s: %v\n", segment, cfg.Trading.Symbol, err)
					continue
				}
				fee, err := market.GetFeeRate(ctx, cfg.Trading.Symbol, segment)
				if err != nil {
					fmt.Fprintf(out, "%-10s %s last %.4f (fee rate unavailable: %v)\n", segment, cfg.Trading.Symbol, quote.LastPrice, err)
					continue
				}
				fmt.Fprintf(out, "%-10s %s last %.4f maker %.4f%% taker %.4f%%\n",
					segment, cfg.Trading.Symbol, quote.LastPrice, fee.Maker*100, fee.Taker*100)
			}
			return nil
		},
	}
}
