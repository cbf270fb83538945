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

	"github.com/timmy/motionmatch/internal/api"
	"github.com/timmy/motionmatch/internal/app"
	"github.com/timmy/motionmatch/internal/config"
	"github.com/timmy/motionmatch/internal/logger"
)

const (
	jobRetention  = 24 * time.Hour
	purgeInterval = time.Hour
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	log := app.NewLogger(&cfg.Log, "motionmatch-api")
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	limiter, err := a.NewLimiter(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize rate limiter")
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.Indexer.Run(ctx)
	}()
	go purgeJobs(ctx, a, log)

	router := api.SetupRouter(api.Services{
		Index:  a.Indexer,
		Search: a.Search,
		Stats:  a.Stats,
	}, limiter, cfg, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Stopping the scheduler drains in-flight items and fails queued jobs.
	stop()
	select {
	case <-schedulerDone:
	case <-time.After(30 * time.Second):
		log.Warn("Scheduler did not stop in time")
	}

	log.Info("Server exited")
}

func purgeJobs(ctx context.Context, a *app.App, log *logger.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Registry.Purge(time.Now().Add(-jobRetention)); n > 0 {
				log.WithField("purged", n).Debug("Purged finished jobs")
			}
		}
	}
}
