package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/demo"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

const startupTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-dispatch", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()
	checks := map[string]func(context.Context) error{}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	store, err := openStore(startCtx, cfg, logger, checks, &closers)
	if err != nil {
		return err
	}

	var (
		source  matcher.DriverSource
		updates geo.Geo
	)
	switch cfg.DriverSource {
	case config.SourceRedis:
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := rg.Ping(startCtx); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		checks["redis"] = rg.Ping
		closers = append(closers, func() { _ = rg.Close() })
		source, updates = rg, rg
	case config.SourceDemo:
		logger.Warn("serving demo drivers; candidates are not real", "center_lat", cfg.DemoCenterLat, "center_lng", cfg.DemoCenterLng)
		source = demo.NewProvider(models.Coord{Lat: cfg.DemoCenterLat, Lng: cfg.DemoCenterLng})
	default:
		idx := geo.NewIndex()
		source, updates = idx, idx
	}

	tariff := cfg.Fare.Tariff()
	estimator, err := fare.NewEstimator(tariff)
	if err != nil {
		return fmt.Errorf("fare config: %w", err)
	}

	registry := &rides.Registry{Store: store, Estimator: estimator, Logger: logger}
	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaRideEventsTopic)
		closers = append(closers, func() { _ = kp.Close() })
		registry.Events = kp
		locations = kp
		logger.Info("publishing to kafka", "brokers", cfg.KafkaBrokers, "ride_events_topic", cfg.KafkaRideEventsTopic)
	}

	api := httpapi.NewServer(httpapi.Options{
		Rides:     registry,
		Matcher:   &matcher.Service{Source: source, AverageSpeedKmh: tariff.AverageSpeedKmh, TopN: cfg.MatcherTopN, Logger: logger},
		Estimator: estimator,
		Geo:       updates,
		Locations: locations,
		Auth:      httpapi.NewAuthenticator(cfg.JWTSecret),
		Checks:    checks,
		Logger:    logger,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; trusting X-User-ID and X-User-Role headers")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "driver_source", cfg.DriverSource)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, checks map[string]func(context.Context) error, closers *[]func()) (storage.TripStore, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		*closers = append(*closers, func() { _ = ps.Close() })
		checks["postgres"] = ps.Ping
		if cfg.RunMigrations {
			applied, err := ps.Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "files", applied)
		}
		return ps, nil
	case config.StoreMongo:
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		*closers = append(*closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Close(ctx)
		})
		checks["mongo"] = ms.Ping
		return ms, nil
	default:
		logger.Warn("using in-memory ride store; rides are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}
