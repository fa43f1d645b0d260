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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scribeserver/internal/api"
	"scribeserver/internal/artifact"
	"scribeserver/internal/auth"
	"scribeserver/internal/config"
	"scribeserver/internal/identity"
	"scribeserver/internal/logging"
	"scribeserver/internal/metrics"
	"scribeserver/internal/redis"
	"scribeserver/internal/service/account"
	"scribeserver/internal/service/media"
	"scribeserver/internal/service/pipeline"
	"scribeserver/internal/service/transcribe"
	"scribeserver/internal/service/translate"
	"scribeserver/internal/storage"
	"scribeserver/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("SCRIBE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	users, closeUsers, err := openIdentityStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer rdb.Close()
	if rdb.Enabled() {
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("identity cache enabled")
	}

	artifacts, err := artifact.NewStore(cfg.BasicConfig.UploadsDir)
	if err != nil {
		return err
	}
	intake, err := pipeline.NewIntake(cfg.BasicConfig.TempDir, artifacts, logger)
	if err != nil {
		return err
	}
	cleanCtx, cleanCancel := context.WithCancel(ctx)
	defer cleanCancel()
	intake.StartCleaner(cleanCtx, cfg.BasicConfig.TempFileTTL, cfg.BasicConfig.TempCleanInterval)

	translator, err := translate.NewService(ctx, cfg.Translate, logger)
	if err != nil {
		return fmt.Errorf("init translator: %w", err)
	}

	m := metrics.New()
	proc := pipeline.New(
		media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.SampleRate, logger),
		transcribe.NewClient(cfg.Transcribe.BaseURL, cfg.Transcribe.Timeout, logger),
		translator,
		artifacts,
		m,
		logger,
	)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.Worker.MinWorkers,
		MaxWorkers:  cfg.Worker.MaxWorkers,
		QueueSize:   cfg.Worker.QueueSize,
		IdleTimeout: cfg.Worker.IdleTimeout,
		Logger:      logger,
		OnDepth:     m.SetQueueDepth,
	})
	defer dispatcher.Stop()

	handlers := api.NewHandler(api.Deps{
		Auth:           auth.NewService(cfg.Auth.JWTSecret, users, rdb, cfg.Auth.TokenTTL, cfg.Auth.IdentityCacheTTL, logger),
		Accounts:       account.NewService(users),
		Artifacts:      artifacts,
		Intake:         intake,
		Pipeline:       proc,
		Workers:        dispatcher,
		Metrics:        m,
		Logger:         logger,
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes,
		CORSOrigins:    cfg.BasicConfig.CORSOrigins,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("uploads", artifacts.Root()).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openIdentityStore picks the user store for the configured driver.
func openIdentityStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (identity.Store, func(), error) {
	logger.Info().Str("driver", cfg.Driver).Msg("identity store")
	if cfg.Driver == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := identity.OpenMongo(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warn().Err(err).Msg("disconnect mongo")
			}
		}, nil
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return identity.NewSQLStore(db), func() { db.Close() }, nil
}
