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

	"github.com/timmy/tweetpurge/internal/api"
	"github.com/timmy/tweetpurge/internal/auth"
	"github.com/timmy/tweetpurge/internal/config"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/repository"
	"github.com/timmy/tweetpurge/internal/service"
	"github.com/timmy/tweetpurge/internal/xapi"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Logger comes first so config errors are structured too
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH points at a YAML file in production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid configuration")
	}

	// Run history is optional; jobs work without it
	var archive service.RunArchive
	if cfg.Database.Enabled {
		db, err := repository.InitDB(&cfg.Database)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize database")
		}
		archive = repository.NewRunRepository(db)
	}

	client := xapi.NewClient(&xapi.Config{
		BaseURL:     cfg.X.APIBaseURL,
		CallTimeout: cfg.X.CallTimeout,
	})

	jobs := repository.NewJobStore()
	deletionService := service.NewDeletionService(
		client,
		jobs,
		archive,
		appLogger,
		service.DeletionConfigFrom(&cfg.Deletion),
	)
	tweetService := service.NewTweetService(client, cfg.Deletion.PageSize)
	sessions := auth.NewSessionStore(cfg.Session.TTL)

	router := api.SetupRouter(&api.Dependencies{
		Deletion: deletionService,
		Tweets:   tweetService,
		Jobs:     jobs,
		Provider: auth.NewProvider(&cfg.X),
		Sessions: sessions,
	}, cfg, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.WithFields(logger.Fields{
			"port":     cfg.Server.Port,
			"mode":     cfg.Server.Mode,
			"base_url": cfg.Server.BaseURL,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deletionService.RunReaper(gctx)
	})

	g.Go(func() error {
		return sessions.RunSweeper(gctx, time.Minute)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := deletionService.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		appLogger.WithError(err).Error("Server exited with error")
		_ = logger.Sync()
		os.Exit(1)
	}

	appLogger.Info("Server exited")
}
