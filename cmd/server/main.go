package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/tablebridge/internal/airtable"
	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/config"
	"github.com/erauner12/tablebridge/internal/creds"
	"github.com/erauner12/tablebridge/internal/db"
	"github.com/erauner12/tablebridge/internal/engine"
	"github.com/erauner12/tablebridge/internal/gsheets"
	"github.com/erauner12/tablebridge/internal/httpapi"
	"github.com/erauner12/tablebridge/internal/metrics"
	"github.com/erauner12/tablebridge/internal/scheduler"
	"github.com/erauner12/tablebridge/internal/store"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "tablebridge").Logger()

	cfg := config.Load()

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.JWTSecret == "" && !cfg.DevMode {
		log.Fatal().Msg("JWT_HS256_SECRET is required outside dev mode")
	}

	ctx := context.Background()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	users := store.NewUserService(pool)
	configs := store.NewConfigService(pool)
	logs := store.NewLogService(pool)
	checkpoints := store.NewCheckpointService(pool)
	usage := store.NewUsageService(pool)
	credentials := store.NewCredentialService(pool)

	key, err := cfg.KeyBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}
	manager, err := creds.NewManager(credentials, key,
		creds.OAuthApp{
			ClientID:     cfg.Airtable.ClientID,
			ClientSecret: cfg.Airtable.ClientSecret,
			TokenURL:     cfg.Airtable.TokenURL,
		},
		creds.OAuthApp{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			TokenURL:     cfg.Google.TokenURL,
		},
		nil,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build credential manager")
	}

	syncMetrics := metrics.New()

	// Each run gets clients bound to the owner's connections; token
	// refresh happens inside the credential manager.
	clients := func(userID string) (engine.SourceA, engine.SourceB) {
		a := airtable.NewClient(manager.Source(userID, store.ServiceAirtable))
		b := gsheets.NewClient(manager.Source(userID, store.ServiceGoogle))
		return a, b
	}

	runner := &engine.Runner{
		Users:       users,
		Configs:     configs,
		Logs:        logs,
		Checkpoints: checkpoints,
		Usage:       usage,
		Clients:     clients,
		Reauth:      manager,
		Metrics:     syncMetrics,
		IDColumn:    cfg.IDColumnIndex,
		MaxTries:    cfg.MaxRetries,
		CallTimeout: cfg.CallTimeout,
		RunDeadline: cfg.RunDeadline,
	}

	sched := &scheduler.Scheduler{
		Configs:  configs,
		Users:    users,
		Runner:   runner,
		Metrics:  syncMetrics,
		Interval: cfg.SchedulerInterval,
	}
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	go sched.Run(schedCtx)

	srv := &httpapi.Server{
		Users:       users,
		Configs:     configs,
		Logs:        logs,
		Usage:       usage,
		Checkpoints: checkpoints,
		Creds:       manager,
		Runner:      runner,
		Metrics:     syncMetrics.Handler(),
		IDColumn:    cfg.IDColumnIndex,
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		DevMode:     cfg.DevMode,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	stopSched()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
