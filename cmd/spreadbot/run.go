package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spreadbot-go/internal/api"
	"spreadbot-go/internal/cache"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/paper"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/strategy"
)

func runCmd(flags *rootFlags) *cobra.Command {
	var (
		paperCash      float64
		paperInventory float64
		noAPI          bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()
			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("refusing to start")
				return err
			}

			client := newClient(cfg, log)
			market := exchange.NewMarket(client)

			var placer execution.OrderPlacer = exchange.NewOrders(client)
			if cfg.Exchange.Paper {
				account := paper.NewAccount(paperCash)
				if paperInventory > 0 {
					quote, err := market.GetPrice(ctx, cfg.Trading.Symbol, signal.Spot)
					if err != nil {
						return fmt.Errorf("price paper inventory: %w", err)
					}
					account.Seed(signal.Spot, cfg.Trading.Symbol, paperInventory, quote.LastPrice)
				}
				placer = account
				defer func() {
					snap := account.Snapshot()
					log.Info().Float64("cash", snap.Cash).Float64("realized_pnl", snap.RealizedPnL).
						Int("positions", len(snap.Positions)).Msg("paper account closed")
				}()
				log.Warn().Float64("cash", paperCash).Msg("paper mode: orders are simulated")
			}

			trades := ledger.New(cfg.Ledger.Path)
			if err := trades.Load(); err != nil {
				return fmt.Errorf("load trade log: %w", err)
			}
			log.Info().Int("records", trades.Len()).Str("path", trades.Path()).Msg("trade log loaded")

			executor := execution.NewExecutor(log, placer, precisionFrom(cfg.Trading))
			hub := api.NewHub(log)
			publishers := []engine.Publisher{hub}
			if cfg.Redis.Addr != "" {
				snapshots, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.TTL())
				if err != nil {
					log.Warn().Err(err).Msg("redis unavailable, snapshot cache disabled")
				} else {
					defer snapshots.Close()
					publishers = append(publishers, snapshots)
				}
			}

			loop, err := engine.New(log, engine.SettingsFrom(cfg.Trading), market, executor,
				strategy.NewSpreadEngine(strategy.DefaultRetention, strategy.DefaultAssessInterval), trades,
				engine.WithPublishers(publishers...))
			if err != nil {
				return err
			}

			var server *api.Server
			if !noAPI {
				server = api.NewServer(cfg.App.HTTPAddr, log, loop, trades, hub)
				go func() {
					if err := server.Start(); err != nil {
						log.Error().Err(err).Msg("observer api stopped")
					}
				}()
			}

			if err := loop.Start(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			case <-loop.Done():
			}
			loop.Stop()

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					log.Warn().Err(err).Msg("observer api shutdown")
				}
			}
			snap := loop.Snapshot()
			if pf := snap.PartialFill; pf != nil {
				return fmt.Errorf("exiting with unhedged %s position (spot order %q, link %q): %s",
					pf.Symbol, pf.SpotOrderID, pf.SpotLinkID, pf.Error)
			}
			if snap.LastError != "" && ctx.Err() == nil {
				return fmt.Errorf("trading loop exited: %s", snap.LastError)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&paperCash, "paper-cash", 10000, "starting quote balance for paper mode")
	cmd.Flags().Float64Var(&paperInventory, "paper-inventory", 0, "spot inventory seeded in paper mode so negative spreads can be sold")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the observer API")
	return cmd
}
