package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"spreadbot-go/internal/cache"
	"spreadbot-go/internal/ledger"
)

func statsCmd(flags *rootFlags) *cobra.Command {
	var (
		window int
		live   bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the trade log, or the running loop via the Redis snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if live {
				if cfg.Redis.Addr == "" {
					return errors.New("--live needs redis.addr")
				}
				snapshots, err := cache.Dial(cmd.Context(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.TTL())
				if err != nil {
					return err
				}
				defer snapshots.Close()
				snap, found, err := snapshots.Latest(cmd.Context())
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(out, "no live snapshot (loop not running or cache expired)")
					return nil
				}
				fmt.Fprintf(out, "state %s  paused %v  risk %s  iterations %d\n", snap.State, snap.Paused, snap.RiskLevel, snap.Iterations)
				if snap.LastSample != nil {
					fmt.Fprintf(out, "spread %.4f%% (spot %.4f, derivative %.4f)\n",
						snap.LastSample.SpreadPercent, snap.LastSample.SpotPrice, snap.LastSample.DerivativePrice)
				}
				fmt.Fprintf(out, "session trades %d, successful %d, profit %.6f\n",
					snap.Stats.TotalTrades, snap.Stats.SuccessfulTrades, snap.Stats.TotalProfit)
				return nil
			}

			trades := ledger.New(cfg.Ledger.Path)
			if err := trades.Load(); err != nil {
				return err
			}
			summary, err := trades.RecentStats(window)
			if errors.Is(err, ledger.ErrInsufficientData) {
				fmt.Fprintf(out, "no trades in %s\n", trades.Path())
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d trades on file\n", trades.Len())
			fmt.Fprintf(out, "last %d: profit %.6f, avg spread %.4f%%, win rate %.1f%%\n",
				summary.Trades, summary.TotalProfit, summary.AvgSpread, summary.WinRate*100)
			return nil
		},
	}
	cmd.Flags().IntVar(&window, "window", ledger.DefaultRecentWindow, "number of recent trades to summarize")
	cmd.Flags().BoolVar(&live, "live", false, "read the running loop's snapshot from redis")
	return cmd
}
