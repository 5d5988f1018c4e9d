package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/signal"
)

func scanCmd(flags *rootFlags) *cobra.Command {
	var (
		symbols string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the current spot/derivative spread for several symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			pairs := parseSymbols(symbols)
			if len(pairs) == 0 {
				pairs = []string{cfg.Trading.Symbol}
			}
			requests := make([]exchange.QuoteRequest, 0, 2*len(pairs))
			for _, sym := range pairs {
				requests = append(requests,
					exchange.QuoteRequest{Symbol: sym, Segment: signal.Spot},
					exchange.QuoteRequest{Symbol: sym, Segment: signal.Derivative})
			}
			results := exchange.FetchQuotes(cmd.Context(), exchange.NewMarket(newClient(cfg, log)), requests, workers)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tSPOT\tDERIVATIVE\tSPREAD %\tSIGNAL")
			for i := 0; i+1 < len(results); i += 2 {
				spot, deriv := results[i], results[i+1]
				if spot.Err != nil || deriv.Err != nil {
					fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", spot.Request.Symbol, firstErr(spot.Err, deriv.Err))
					continue
				}
				spread := signal.SpreadPercent(spot.Quote.LastPrice, deriv.Quote.LastPrice)
				mark := ""
				if abs(spread) > cfg.Trading.MinSpread {
					mark = "above min_spread"
				}
				fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%s\n", spot.Request.Symbol, spot.Quote.LastPrice, deriv.Quote.LastPrice, spread, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma separated symbols (defaults to trading.symbol)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent quote lookups")
	return cmd
}

func parseSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
