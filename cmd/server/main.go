package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/stylegen/internal/api"
	"github.com/dunamismax/stylegen/internal/cache"
	"github.com/dunamismax/stylegen/internal/config"
	"github.com/dunamismax/stylegen/internal/genimage"
	"github.com/dunamismax/stylegen/internal/jobs"
	"github.com/dunamismax/stylegen/internal/logging"
	"github.com/dunamismax/stylegen/internal/pipeline"
	"github.com/dunamismax/stylegen/internal/queue"
	"github.com/dunamismax/stylegen/internal/ratelimit"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/dunamismax/stylegen/internal/storage"
	"github.com/dunamismax/stylegen/internal/store"
	"github.com/dunamismax/stylegen/internal/telemetry"
	"github.com/dunamismax/stylegen/internal/templates"
	"github.com/dunamismax/stylegen/internal/webhook"
	"github.com/dunamismax/stylegen/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("production", "")
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.App.Env, cfg.App.LogLevel).With().Str("service", "stylegen").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "stylegen",
		Environment:  cfg.App.Env,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logging.Component(logger, "telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	registry := telemetry.NewRegistry()

	resultCache := cache.New(cache.Options{
		ResultTTL:     cfg.Cache.ResultTTL,
		MetadataTTL:   cfg.Cache.MetadataTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logging.Component(logger, "cache"))
	broadcaster := realtime.NewBroadcaster(realtime.DefaultBuffer, logging.Component(logger, "realtime"))

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.Options{
		Name:        cfg.Queue.Name,
		Attempts:    cfg.Queue.Attempts,
		BackoffBase: cfg.Queue.BackoffBase,
		Timeout:     cfg.Queue.TaskTimeout,
		Retention:   cfg.Queue.Retention,
	}, logging.Component(logger, "queue"))
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close")
		}
	}()

	catalog, err := loadCatalog(ctx, cfg, logging.Component(logger, "templates"))
	if err != nil {
		return err
	}

	generator, err := genimage.NewClient(ctx, genimage.Config{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Timeout:     cfg.Gemini.Timeout,
		MinInterval: cfg.Gemini.MinInterval,
	}, logging.Component(logger, "genimage"))
	if err != nil {
		return err
	}

	compositor, err := pipeline.NewCompositor(cfg.Worker.OutputFormat)
	if err != nil {
		return err
	}
	defer pipeline.Shutdown()

	usageStore, closeUsage, err := openUsageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeUsage()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	limiter, err := newLimiter(cfg.API, redisClient)
	if err != nil {
		return err
	}

	service := jobs.NewService(queueClient, resultCache, broadcaster, logging.Component(logger, "jobs"))

	handler, err := worker.NewHandler(worker.Deps{
		Cache:       resultCache,
		Broadcaster: broadcaster,
		Templates:   catalog,
		Generator:   generator,
		Compositor:  compositor,
		Usage:       usageStore,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}, logging.Component(logger, "webhook")),
		Registry: registry,
		Logger:   logging.Component(logger, "worker"),
	})
	if err != nil {
		return err
	}
	workerServer, err := worker.NewServer(cfg.Queue.RedisClientOpt(), worker.ServerConfig{
		Queue:       cfg.Queue.Name,
		Concurrency: cfg.Worker.Concurrency,
		BackoffBase: cfg.Queue.BackoffBase,
	}, handler, logging.Component(logger, "worker"))
	if err != nil {
		return err
	}

	app := api.NewServer(logging.Component(logger, "api"), service, catalog, api.Options{
		MaxUploadBytes:  cfg.API.MaxUploadBytes,
		Usage:           usageStore,
		RateLimiter:     limiter,
		RateLimitHeader: cfg.API.RateLimitHeader,
		Pricing:         generator.Pricing().Info(generator.Model()),
		Registry:        registry,
	})
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return resultCache.Run(gctx)
	})
	g.Go(func() error {
		return queueClient.RunTrimmer(gctx, cfg.Queue.TrimInterval, cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed)
	})
	g.Go(func() error {
		return workerServer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.API.Addr).Int("templates", len(catalog.List())).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadCatalog(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*templates.Catalog, error) {
	var source templates.Source = templates.FileSource{Root: cfg.Templates.Dir}
	if cfg.Templates.Source == "s3" {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Prefix:   cfg.Storage.Prefix,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		source = templates.ObjectSource{Objects: client}
	}
	return templates.Load(ctx, source, cfg.Templates.Manifest, logger)
}

func openUsageStore(ctx context.Context, cfg config.Config) (store.UsageStore, func(), error) {
	if cfg.Database.DSN == "" {
		return store.NewMemoryUsageStore(), func() {}, nil
	}
	pg, err := store.NewPostgresUsageStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func newLimiter(cfg config.APIConfig, client redis.UniversalClient) (ratelimit.Limiter, error) {
	if cfg.RateLimitPerMinute == 0 {
		return nil, nil
	}
	if cfg.RateLimitBackend == "local" {
		return ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	return ratelimit.NewRedisWindow(client, cfg.RateLimitPerMinute, time.Minute, "")
}
