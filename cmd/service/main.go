package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast-service/internal/cache"
	"github.com/kjstillabower/weather-forecast-service/internal/client"
	"github.com/kjstillabower/weather-forecast-service/internal/config"
	httphandler "github.com/kjstillabower/weather-forecast-service/internal/http"
	"github.com/kjstillabower/weather-forecast-service/internal/ledger"
	"github.com/kjstillabower/weather-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast-service/internal/normalize"
	"github.com/kjstillabower/weather-forecast-service/internal/observability"
	"github.com/kjstillabower/weather-forecast-service/internal/service"
	"github.com/kjstillabower/weather-forecast-service/internal/syncgateway"
	"github.com/kjstillabower/weather-forecast-service/internal/translate"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const inFlightCheckInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	forecastClient, err := client.NewVisualCrossingClientWithRetry(
		cfg.ForecastAPIKey,
		cfg.ForecastAPIURL,
		cfg.ForecastAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}
	breaker := client.NewBreaker("forecast_api", client.BreakerConfig{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
	})
	forecastClient.SetCircuitBreaker(breaker)
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout))

	clock := clockwork.NewRealClock()
	store, err := cache.NewDiskStore(cfg.CacheDir, cache.Policy{
		MaxAge:     cfg.CacheMaxAge,
		MaxEntries: cfg.CacheMaxEntries,
	}, clock, logger)
	if err != nil {
		logger.Fatal("forecast cache", zap.Error(err))
	}
	lookups, err := ledger.New(cfg.LedgerPath, logger)
	if err != nil {
		logger.Fatal("lookup ledger", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	gateway, memcached, err := buildGateway(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("sync gateway", zap.Error(err))
	}

	deps := service.Dependencies{
		Client:     forecastClient,
		Normalizer: normalize.New(translate.NewGoogleTranslator(cfg.TranslateURL, cfg.TranslateTimeout)),
		Store:      store,
		Ledger:     lookups,
		Clock:      clock,
		Logger:     logger,
	}
	if gateway != nil {
		deps.Sync = gateway
	}
	forecastService := service.NewForecastService(deps, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	observability.SetTrackedLocations(cfg.TrackedLocations)
	observability.RegisterRateLimitGauges(cfg.DegradedWindow)

	if cfg.CacheWarm {
		warmer := cache.NewWarmer(forecastService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.CacheWarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}

	var sweeper *cache.Sweeper
	if cfg.CacheSweepSchedule != "" {
		sweeper, err = cache.NewSweeper(store, cfg.CacheSweepSchedule, logger)
		if err != nil {
			logger.Fatal("cache sweeper", zap.Error(err))
		}
		sweeper.Start()
		logger.Info("cache sweeper started", zap.String("schedule", cfg.CacheSweepSchedule))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		UpstreamOpen:     func() bool { return breaker.State() == gobreaker.StateOpen },
		Version:          version,
	}
	if memcached != nil {
		healthConfig.DocumentStorePing = memcached.Ping
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	handler := httphandler.NewHandler(forecastService, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)

	logger.Info("graceful shutdown triggered", zap.String("signal", sig.String()))
	lifecycle.BeginShutdown(sig.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	logger.Info("shutdown complete")

	var closers []io.Closer
	if memcached != nil {
		closers = append(closers, memcached)
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, closers...); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// buildGateway returns nil when sync is disabled. The memcached store is returned
// separately so main can ping and close it.
func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*syncgateway.Gateway, *syncgateway.MemcachedStore, error) {
	if !cfg.SyncEnabled {
		logger.Info("sync disabled")
		return nil, nil, nil
	}
	awsCfg, err := syncgateway.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return nil, nil, err
	}
	objects, err := syncgateway.NewS3ObjectStoreFromConfig(awsCfg, cfg.Bucket)
	if err != nil {
		return nil, nil, err
	}

	var docs syncgateway.DocumentStore
	var memcached *syncgateway.MemcachedStore
	switch cfg.DocumentBackend {
	case "memcached":
		memcached = syncgateway.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout)
		docs = memcached
		logger.Info("document backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		dynamo, err := syncgateway.NewDynamoDBStoreFromConfig(awsCfg, cfg.DynamoTable, cfg.PartitionAttr)
		if err != nil {
			return nil, nil, err
		}
		docs = dynamo
		logger.Info("document backend: dynamodb", zap.String("table", cfg.DynamoTable))
	}

	gateway := syncgateway.New(docs, objects, syncgateway.Options{
		RecordKey: cfg.RecordKey,
		AssetName: cfg.AssetKey,
		AssetPath: cfg.AssetPath,
	}, logger)
	return gateway, memcached, nil
}
