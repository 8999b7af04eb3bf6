// Package main runs the simulation service: the HTTP API, the session
// runner, the event stream and the Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"invest-sim-lab/internal/api"
	"invest-sim-lab/internal/candles"
	"invest-sim-lab/internal/config"
	"invest-sim-lab/internal/equity"
	"invest-sim-lab/internal/ledger"
	"invest-sim-lab/internal/logging"
	"invest-sim-lab/internal/observability"
	"invest-sim-lab/internal/session"
	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
	chstore "invest-sim-lab/internal/storage/clickhouse"
	"invest-sim-lab/internal/storage/memory"
	"invest-sim-lab/internal/storage/migrations"
	pgstore "invest-sim-lab/internal/storage/postgres"
	"invest-sim-lab/internal/stream"
)

// appStores holds every storage implementation the service needs.
type appStores struct {
	sessions    storage.SimSessionStore
	events      storage.SimEventStore
	candles     storage.CandleStore
	operations  storage.OperationStore
	balances    storage.BalanceStore
	vaults      storage.VaultStore
	positions   storage.PositionStore
	performance storage.PerformanceStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	loader, err := candles.NewStoreLoader(stores.candles)
	if err != nil {
		return err
	}

	hub, err := stream.NewHub(stores.events, log)
	if err != nil {
		return err
	}

	// The runner's sink fans out to the websocket hub and, when
	// configured, the JetStream relay.
	sink := stream.Tee{hub}
	if cfg.NATSURL != "" {
		relay, nc, err := stream.NewNATSRelay(cfg.NATSURL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		sink = append(sink, relay)
		log.Info("jetstream relay enabled", zap.String("url", cfg.NATSURL))
	}

	runner, err := session.NewRunner(session.Options{
		Sessions:      stores.sessions,
		Events:        stores.events,
		Loader:        loader,
		Sink:          sink,
		Logger:        log,
		AllowResearch: cfg.AllowResearch,
	})
	if err != nil {
		return err
	}

	// Sessions left RUNNING by a crash are parked before the API opens.
	recovered, err := runner.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}
	if recovered > 0 {
		log.Info("recovered orphaned sessions", zap.Int("count", recovered))
	}

	reconciler, err := ledger.NewEngine(ledger.EngineOptions{
		Operations: stores.operations,
		Balances:   stores.balances,
		Vaults:     stores.vaults,
		Positions:  stores.positions,
	})
	if err != nil {
		return err
	}

	aggregator, err := equity.NewAggregator(stores.positions, stores.performance)
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Options{
		Runner:     runner,
		Sessions:   stores.sessions,
		Events:     stores.events,
		Reconciler: reconciler,
		Equity:     aggregator,
		WS:         stream.NewWSHandler(hub, log),
		Asset:      cfg.SettlementAsset,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("api listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.Info("metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown", zap.Error(err))
	}

	// Park in-flight sessions so a restart resumes them cleanly.
	if err := pauseLive(shutdownCtx, runner, stores.sessions, log); err != nil {
		log.Error("pause live sessions", zap.Error(err))
	}
	return nil
}

// pauseLive snapshots every RUNNING session before exit.
func pauseLive(ctx context.Context, runner *session.Runner, sessions storage.SimSessionStore, log *zap.Logger) error {
	if runner.Registry().Len() == 0 {
		return nil
	}
	running, err := sessions.ListByStatus(ctx, domain.SessionRunning)
	if err != nil {
		return err
	}
	for _, sess := range running {
		if err := runner.Pause(ctx, sess.SessionID); err != nil {
			log.Warn("pause on shutdown",
				zap.String("session_id", sess.SessionID),
				zap.Error(err))
		}
	}
	return nil
}

// createStores builds either the in-memory stack or the
// Postgres/ClickHouse stack with migrations applied.
func createStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*appStores, func(), error) {
	if cfg.UseMemory {
		log.Info("using in-memory storage")
		holdings := memory.NewHoldingsStore()
		return &appStores{
			sessions:    memory.NewSimSessionStore(),
			events:      memory.NewSimEventStore(),
			candles:     memory.NewCandleStore(),
			operations:  memory.NewOperationStore(),
			balances:    holdings,
			vaults:      holdings,
			positions:   holdings.Positions(),
			performance: memory.NewPerformanceStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	log.Info("postgres ready")

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	log.Info("clickhouse ready")

	holdings := pgstore.NewHoldingsStore(pool)
	stores := &appStores{
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
	return stores, cleanup, nil
}
