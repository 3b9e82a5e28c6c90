package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "sensor-gateway/internal/api/http"
	"sensor-gateway/internal/auth"
	"sensor-gateway/internal/config"
	"sensor-gateway/internal/observability/metrics"
	"sensor-gateway/internal/ratelimit"
	"sensor-gateway/internal/telemetry/application"
	telemetry "sensor-gateway/internal/telemetry/domain"
	telemetrydynamo "sensor-gateway/internal/telemetry/infrastructure/dynamodb"
	telemetryinflux "sensor-gateway/internal/telemetry/infrastructure/influxdb"
	telemetrymemory "sensor-gateway/internal/telemetry/infrastructure/memory"
	telemetrypostgres "sensor-gateway/internal/telemetry/infrastructure/postgres"
	telemetryhttp "sensor-gateway/internal/telemetry/interfaces/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error:\n%v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	generalLimiter, ingestLimiter, closeLimiters, err := buildLimiters(ctx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	defer closeLimiters()

	credentials, err := auth.NewCredentialVerifier(cfg.DeviceSecretPrefix)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(credentials, auth.StaticKey(cfg.JWTSecret), auth.WithTokenTTL(cfg.JWTExpiresIn))
	if err != nil {
		return err
	}
	tokenHandler, err := auth.NewTokenHandler(tokens, logger)
	if err != nil {
		return err
	}

	normalizer := telemetry.NewNormalizer(telemetry.WithValueBounds(cfg.Ingest.ValueMin, cfg.Ingest.ValueMax))
	coordinator, err := application.NewCoordinator(store,
		application.WithNormalizer(normalizer),
		application.WithLogger(logger),
		application.WithBackendName(cfg.Store.Backend),
		application.WithStoreTimeout(cfg.Store.Timeout),
		application.WithMaxBatch(cfg.Ingest.BulkMaxReadings),
		application.WithConcurrency(cfg.Ingest.BulkConcurrency),
	)
	if err != nil {
		return err
	}
	ingestHandler, err := telemetryhttp.NewHandler(coordinator, logger)
	if err != nil {
		return err
	}

	clientKey := ratelimit.ClientIP(cfg.RateLimit.TrustProxy)
	generalLimit := ratelimit.NewMiddleware(generalLimiter, clientKey, logger)
	generalLimit.Skip = func(r *http.Request) bool {
		return r.URL.Path == "/health" || r.URL.Path == "/metrics"
	}
	ingestLimit := ratelimit.NewMiddleware(ingestLimiter, clientKey, logger)

	policy := auth.NewDefaultPolicy([]string{"/health", "/metrics", "/auth/token"}, []string{"/ingest"})
	authMiddleware := auth.NewMiddleware(tokens, policy, logger)

	mux := http.NewServeMux()
	mux.Handle("/auth/token", tokenHandler)
	mux.Handle("/health", apihttp.NewHealthHandler(version))
	mux.Handle("/metrics", promhttp.Handler())
	ingestHandler.Register(mux, ingestLimit.Wrap, authMiddleware.Wrap)
	mux.HandleFunc("/", apihttp.NotFound)

	handler := apihttp.Recover(
		apihttp.Logging(
			apihttp.CORS(generalLimit.Wrap(mux), cfg.AllowedOrigins),
			logger,
		),
		logger,
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening",
			"addr", cfg.Addr(),
			"version", version,
			"store", cfg.Store.Backend,
			"rate_limit_backend", cfg.RateLimit.Backend,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (telemetry.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.StorePostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("db open: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("db ping: %w", err)
		}
		metrics.RegisterDBStats(db)
		store, err := telemetrypostgres.NewRecordStore(db, telemetrypostgres.WithTable(cfg.Collection))
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, func() { _ = db.Close() }, nil

	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("aws config: %w", err)
		}
		store, err := telemetrydynamo.NewRecordStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.StoreInfluxDB:
		client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		store, err := telemetryinflux.NewRecordStore(client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket), cfg.Collection)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return store, client.Close, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store; records are lost on restart")
		return telemetrymemory.NewRecordStore(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func buildLimiters(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (*ratelimit.Limiter, *ratelimit.Limiter, func(), error) {
	closeFn := func() {}
	var generalOpts, ingestOpts []ratelimit.Option

	if cfg.Backend == config.CounterRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable; rate limiting fails open until it recovers", "error", err)
		}
		generalCounter, err := ratelimit.NewRedisCounter(client, "ratelimit:general")
		if err != nil {
			_ = client.Close()
			return nil, nil, closeFn, err
		}
		ingestCounter, err := ratelimit.NewRedisCounter(client, "ratelimit:ingest")
		if err != nil {
			_ = client.Close()
			return nil, nil, closeFn, err
		}
		generalOpts = append(generalOpts, ratelimit.WithCounter(generalCounter))
		ingestOpts = append(ingestOpts, ratelimit.WithCounter(ingestCounter))
		closeFn = func() { _ = client.Close() }
	}

	general, err := ratelimit.New("general", cfg.Window, cfg.Max, generalOpts...)
	if err != nil {
		closeFn()
		return nil, nil, func() {}, err
	}
	ingest, err := ratelimit.New("ingest", cfg.IngestWindow, cfg.IngestMax, ingestOpts...)
	if err != nil {
		closeFn()
		return nil, nil, func() {}, err
	}
	return general, ingest, closeFn, nil
}
