package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"appdrop/internal/server"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "backend").Logger()
	if os.Getenv("APPDROP_LOG_FORMAT") != "json" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	build := server.BuildInfo{
		Version: getenvDefault("APPDROP_VERSION", "dev"),
		Commit:  getenvDefault("APPDROP_COMMIT", "unknown"),
	}

	cfg, err := server.NewConfig(getenvDefault("APPDROP_CONFIG", ".app.env.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := server.OpenDB(cfg.Database.URL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() { _ = db.Close() }()

	log.Info().Msg("running migrations")
	if err := server.RunMigrations(cfg.Database.URL(), getenvDefault("APPDROP_MIGRATIONS_DIR", "migrations")); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	blobs, err := server.NewBlobStore(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to blob store")
	}

	srv, err := server.New(cfg, db, blobs, log, build)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	// Retention sweeper runs until shutdown cancels its context.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go server.StartCleanupJob(jobCtx, *cfg, db, blobs, log.With().Str("service", "cleanup").Logger())

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("base_url", cfg.Server.BaseURL).
			Str("version", build.Version).
			Str("commit", build.Commit).
			Msg("starting")
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancelJobs()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("shutdown failed")
		}
		log.Info().Msg("shutdown complete")
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
