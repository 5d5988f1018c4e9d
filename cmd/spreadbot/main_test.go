package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spreadbot-go/internal/config"
)

func TestParseSymbols(t *testing.T) {
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, parseSymbols(" btcusdt, ,ETHUSDT,"))
	require.Empty(t, parseSymbols(""))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPISecret, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	flags := &rootFlags{configPath: path}

	cmd := initCmd(flags)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), path)

	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", cfg.Trading.Symbol)
	require.Equal(t, 3, precisionFrom(cfg.Trading).Places["BTCUSDT"])

	var invalid *config.InvalidConfigError
	require.True(t, errors.As(cfg.Validate(), &invalid), "credentials are never written")
	require.Equal(t, "exchange.credentials", invalid.Field)

	again := initCmd(flags)
	again.SetArgs([]string{})
	again.SetOut(&out)
	again.SetErr(&out)
	require.Error(t, again.ExecuteContext(context.Background()), "refuses to overwrite")
}
