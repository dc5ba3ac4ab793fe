package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/ender-watch/internal/activity"
	"github.com/isdelr/ender-watch/internal/api"
	"github.com/isdelr/ender-watch/internal/config"
	"github.com/isdelr/ender-watch/internal/crafty"
	"github.com/isdelr/ender-watch/internal/database"
	"github.com/isdelr/ender-watch/internal/dispatcher"
	"github.com/isdelr/ender-watch/internal/logger"
	"github.com/isdelr/ender-watch/internal/probe"
	"github.com/isdelr/ender-watch/internal/services"
	"github.com/isdelr/ender-watch/internal/watchdog"
	"github.com/isdelr/ender-watch/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	log.Info().
		Str("crafty", fmt.Sprintf("%s:%d", cfg.CraftyHost, cfg.CraftyPort)).
		Int("servers", len(cfg.Servers)).
		Bool("auto_shutdown", cfg.AutoShutdownEnabled).
		Dur("idle_threshold", cfg.IdleThreshold).
		Msg("Starting ender-watch")

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up the management API client
	client := crafty.New(crafty.Options{
		Host:      cfg.CraftyHost,
		Port:      cfg.CraftyPort,
		SSL:       cfg.CraftySSL,
		SSLVerify: cfg.CraftySSLVerify,
		APIKey:    cfg.CraftyAPIKey,
		Timeout:   cfg.APITimeout,
		Retry: crafty.RetryPolicy{
			MaxAttempts: cfg.APIMaxAttempts,
			Backoff:     cfg.APIRetryBackoff,
			Retryable:   crafty.IsTransient,
		},
	})

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Core state: activity records and shutdown states, rebuilt from
	// configuration on every start.
	eventService := services.NewEventService(db, hub)
	tracker := activity.NewTracker(cfg.Servers, time.Now)
	states := watchdog.NewStateTable(cfg.Servers)

	// Set up and run the idle watchdog
	var scheduler *watchdog.Scheduler
	if cfg.AutoShutdownEnabled {
		scheduler = watchdog.NewScheduler(cfg.Servers, client, tracker, states, eventService, watchdog.Options{
			Interval: cfg.CheckInterval,
			Prober:   probe.NewRCONProber(cfg.APITimeout),
		})
		go scheduler.Run()
	} else {
		log.Info().Msg("Auto-shutdown disabled; idle watchdog not started")
	}

	// Set up and run the scheduled backup window, if configured
	var backups *watchdog.BackupScheduler
	if cfg.BackupCron != "" {
		backups, err = watchdog.NewBackupScheduler(cfg.Servers, client, states, eventService, cfg.BackupCron)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up scheduled backups")
		}
		go backups.Run()
	}

	// Set up the command dispatcher and router
	d := dispatcher.New(cfg.Servers, cfg.AllowedChannels, client, tracker, states, eventService, cfg.StartupGrace)
	router := api.NewRouter(hub, d, eventService, cfg.AdminPasswordHash)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("API server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe()")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	if scheduler != nil {
		scheduler.Stop()
	}
	if backups != nil {
		backups.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
