// Command marketmaker launches the quoting engine for one symbol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketmaker/internal/config"
	"github.com/coachpo/marketmaker/internal/engine"
	"github.com/coachpo/marketmaker/internal/exchange"
	"github.com/coachpo/marketmaker/internal/exchange/fake"
	"github.com/coachpo/marketmaker/internal/lifecycle"
	"github.com/coachpo/marketmaker/internal/observability"
	"github.com/coachpo/marketmaker/internal/persistence/migrations"
	"github.com/coachpo/marketmaker/internal/persistence/postgres"
	"github.com/coachpo/marketmaker/internal/resilience"
	"github.com/coachpo/marketmaker/internal/risk"
	"github.com/coachpo/marketmaker/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	telemetryShutdownTimeout = 5 * time.Second
	migrationTimeout         = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	appCfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewTextLogger(os.Stdout, appCfg.Logging.Debug)
	observability.SetLogger(logger)
	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults")
	}
	logger.Info("configuration initialised",
		observability.F("env", string(appCfg.Environment)),
		observability.F("symbol", appCfg.Symbol),
		observability.F("venue", appCfg.Venue.Name))

	telemetryProvider, err := initTelemetry(ctx, appCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry(telemetryProvider)

	recorder, pool, err := initFillRecorder(ctx, appCfg.Database)
	if err != nil {
		return fmt.Errorf("initialize fill persistence: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	eng, stream, err := buildEngine(appCfg, cancel, recorder)
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("stream terminated", observability.F("error", err))
			cancel()
		}
	})
	wg.Go(func() {
		if err := eng.Run(ctx, stream.Events()); err != nil && ctx.Err() == nil {
			logger.Error("engine terminated", observability.F("error", err))
			cancel()
		}
	})

	logger.Info("marketmaker started; awaiting shutdown signal")
	wg.Wait()
	logger.Info("marketmaker stopped")
	return nil
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	if *cfgPath != "" {
		return *cfgPath
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return filepath.Clean(defaultConfigPath)
	}
	return ""
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, appCfg config.AppConfig) (*telemetry.Provider, error) {
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      appCfg.Telemetry.EnableMetrics,
		OTLPEndpoint: appCfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: appCfg.Telemetry.OTLPInsecure,
		ServiceName:  appCfg.Telemetry.ServiceName,
		Environment:  string(appCfg.Environment),
	})
	if err != nil {
		return nil, err
	}
	if appCfg.Telemetry.EnableMetrics {
		observability.SetMetrics(telemetry.NewRecorder(provider))
		observability.Log().Info("telemetry initialized",
			observability.F("endpoint", appCfg.Telemetry.OTLPEndpoint),
			observability.F("service", appCfg.Telemetry.ServiceName))
	} else {
		observability.Log().Info("telemetry disabled")
	}
	return provider, nil
}

func shutdownTelemetry(provider *telemetry.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		observability.Log().Warn("telemetry shutdown", observability.F("error", err))
	}
}

func initFillRecorder(ctx context.Context, cfg config.DatabaseConfig) (engine.FillRecorder, *pgxpool.Pool, error) {
	if !cfg.Enabled {
		observability.Log().Info("fill persistence disabled")
		return nil, nil, nil
	}
	if cfg.RunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
		defer cancel()
		if err := migrations.ApplyEmbedded(migrateCtx, cfg.DSN); err != nil {
			return nil, nil, err
		}
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	observability.Log().Info("fill persistence enabled")
	return postgres.NewFillStore(pool), pool, nil
}

// buildEngine wires the venue, resilience stack, risk manager, and order
// lifecycle into an engine. Execution runs against the in-memory paper venue;
// credential signing for live order routing is a deployment concern layered
// on the RestClient interface.
func buildEngine(appCfg config.AppConfig, cancel context.CancelFunc, recorder engine.FillRecorder) (*engine.Engine, *exchange.StreamClient, error) {
	limits, err := appCfg.Limits()
	if err != nil {
		return nil, nil, err
	}
	baseSpread, err := appCfg.BaseSpreadBps()
	if err != nil {
		return nil, nil, err
	}
	baseSize, err := appCfg.BaseOrderSize()
	if err != nil {
		return nil, nil, err
	}
	priceTick, err := appCfg.PriceTick()
	if err != nil {
		return nil, nil, err
	}

	venue := fake.NewVenue()
	observability.Log().Warn("execution venue is in-memory paper trading",
		observability.F("venue", appCfg.Venue.Name))

	breakerCfg := appCfg.Resilience.Breaker
	breakerCfg.Name = appCfg.Venue.Name
	guard := resilience.NewGuard(appCfg.Venue.Name,
		appCfg.Resilience.Guard,
		resilience.NewCircuitBreaker(breakerCfg),
		resilience.NewRateLimiter(appCfg.Resilience.Quotas))

	riskMgr := risk.NewManager(limits)
	orders := lifecycle.NewManager(appCfg.Symbol, venue, guard)

	stream := exchange.NewStreamClient(exchange.StreamConfig{
		URL:        appCfg.Venue.WSURL,
		Topics:     appCfg.Venue.Topics,
		BufferSize: appCfg.Venue.StreamBufferSize,
		Supervisor: appCfg.Resilience.Reconnect,
	}, func(err error) {
		observability.Log().Error("stream reconnection exhausted, stopping",
			observability.F("error", err))
		cancel()
	})

	eng := engine.New(engine.Config{
		Symbol:              appCfg.Symbol,
		TickInterval:        appCfg.Quoting.TickInterval,
		SignalWindow:        appCfg.Quoting.SignalWindow,
		Depth:               appCfg.Quoting.Depth,
		BaseSpreadBps:       baseSpread,
		BaseOrderSize:       baseSize,
		PriceTick:           priceTick,
		ReconcileEveryTicks: appCfg.Quoting.ReconcileEveryTicks,
		OrderCallTimeout:    appCfg.Quoting.OrderCallTimeout,
		ShutdownTimeout:     appCfg.Quoting.ShutdownTimeout,
	}, riskMgr, orders, venue, guard, recorder)
	return eng, stream, nil
}
