// Command seed-templates uploads the local template manifest and artwork to
// the configured bucket so the server can run with TEMPLATE_SOURCE=s3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/stylegen/internal/config"
	"github.com/dunamismax/stylegen/internal/logging"
	"github.com/dunamismax/stylegen/internal/storage"
	"github.com/dunamismax/stylegen/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("production", "")
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Component(logging.New(cfg.App.Env, cfg.App.LogLevel), "seed-templates")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	catalog, err := templates.Load(ctx, templates.FileSource{Root: cfg.Templates.Dir}, cfg.Templates.Manifest, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load local templates")
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Prefix:   cfg.Storage.Prefix,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create storage client")
	}
	if err := client.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Str("bucket", client.Bucket()).Msg("ensure bucket")
	}

	n, err := catalog.Publish(ctx, cfg.Templates.Manifest, client)
	if err != nil {
		logger.Error().Err(err).Msg("publish templates")
		os.Exit(1)
	}
	logger.Info().Int("objects", n).Str("bucket", client.Bucket()).Msg("templates seeded")
}
