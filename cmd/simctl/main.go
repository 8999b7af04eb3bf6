// Package main provides simctl, the operational CLI for the simulation
// service: offline session replay, ledger reconciliation and candle
// seeding.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invest-sim-lab/internal/config"
	"invest-sim-lab/internal/logging"
	"invest-sim-lab/internal/storage"
	chstore "invest-sim-lab/internal/storage/clickhouse"
	"invest-sim-lab/internal/storage/memory"
	"invest-sim-lab/internal/storage/migrations"
	pgstore "invest-sim-lab/internal/storage/postgres"
)

var rootCmd = &cobra.Command{
	Use:          "simctl",
	Short:        "Operate the strategy simulation service",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliStores is the storage stack a subcommand runs against.
type cliStores struct {
	sessions    storage.SimSessionStore
	events      storage.SimEventStore
	candles     storage.CandleStore
	operations  storage.OperationStore
	balances    storage.BalanceStore
	vaults      storage.VaultStore
	positions   storage.PositionStore
	performance storage.PerformanceStore
}

// setup loads configuration, builds a logger and connects the stores.
func setup(ctx context.Context) (config.Config, *zap.Logger, *cliStores, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.UseMemory {
		holdings := memory.NewHoldingsStore()
		stores := &cliStores{
			sessions:    memory.NewSimSessionStore(),
			events:      memory.NewSimEventStore(),
			candles:     memory.NewCandleStore(),
			operations:  memory.NewOperationStore(),
			balances:    holdings,
			vaults:      holdings,
			positions:   holdings.Positions(),
			performance: memory.NewPerformanceStore(),
		}
		return cfg, log, stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return config.Config{}, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return config.Config{}, nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return config.Config{}, nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	holdings := pgstore.NewHoldingsStore(pool)
	stores := &cliStores{
		sessions:    pgstore.NewSimSessionStore(pool),
		events:      pgstore.NewSimEventStore(pool),
		candles:     chstore.NewCandleStore(chConn),
		operations:  pgstore.NewOperationStore(pool),
		balances:    holdings,
		vaults:      holdings,
		positions:   holdings.Positions(),
		performance: chstore.NewPerformanceStore(chConn),
	}
	cleanup := func() {
		pool.Close()
		chConn.Close()
	}
	return cfg, log, stores, cleanup, nil
}
