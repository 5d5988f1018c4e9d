package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/util"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

// Execute builds the command tree and runs it until ctx is cancelled.
func Execute(ctx context.Context) error {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "spreadbot",
		Short:         "Spot/derivative spread arbitrage client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML config")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override app.log_level")

	root.AddCommand(runCmd(flags), checkCmd(flags), scanCmd(flags), statsCmd(flags), initCmd(flags))
	return root.ExecuteContext(ctx)
}

// loadConfig reads the config file and applies the log-level override.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.App.LogLevel = flags.logLevel
	}
	return cfg, nil
}

// newLogger writes to stdout and, when configured, appends to app.log_file as well.
func newLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	closer := func() {}
	if cfg.App.LogFile != "" {
		file, err := util.OpenLogFile(cfg.App.LogFile)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		writers = append(writers, file)
		closer = func() { file.Close() }
	}
	log := util.NewLoggerTo(cfg.App.LogLevel, writers...).With().Str("app", cfg.App.Name).Logger()
	return log, closer, nil
}

func newClient(cfg *config.Config, log zerolog.Logger) *exchange.Client {
	creds := exchange.Credentials{APIKey: cfg.Exchange.APIKey, APISecret: cfg.Exchange.APISecret}
	return exchange.NewClient(cfg.Exchange.BaseURL, creds,
		exchange.WithTimeout(cfg.Exchange.Timeout()),
		exchange.WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
		exchange.WithLogger(log),
	)
}

func precisionFrom(t config.Trading) execution.Precision {
	places := make(map[string]int, len(t.Precision))
	for symbol, p := range t.Precision {
		places[strings.ToUpper(symbol)] = p
	}
	return execution.Precision{Places: places, Default: t.DefaultPrecision}
}
