package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisper-darkly/eventstream/aggregator"
	"github.com/whisper-darkly/eventstream/config"
	"github.com/whisper-darkly/eventstream/httpapi"
	"github.com/whisper-darkly/eventstream/store/mongostore"
	"github.com/whisper-darkly/eventstream/topic"
	"github.com/whisper-darkly/eventstream/wsapi"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and streaming servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(context.Background())
		},
	}
}

func serve(parentCtx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg)

	log.Info().Str("version", version).Msg("eventstream starting")

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	db, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("mongostore: %w", err)
	}
	defer db.Close(context.Background())

	ttl := time.Duration(cfg.RawEventsTTLDays) * 24 * time.Hour
	if err := db.EnsureIndexes(ctx, ttl); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	agg := aggregator.New(config.Windows[:])
	janitor := aggregator.NewJanitor(agg, cfg.JanitorInterval)
	janitor.Start(ctx)
	defer janitor.Stop()

	topics := topic.NewRegistry(cfg.BackpressureBytes, 256)

	ingestSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.New(httpapi.Deps{
			Store:             db,
			Aggregator:        agg,
			Topics:            topics,
			JWTSecret:         cfg.JWTSecret,
			AllowedOrigins:    cfg.AllowedOrigins,
			MaxMsgBytes:       cfg.MaxMsgBytes,
			MetricsEnabled:    cfg.MetricsEnabled,
			AdminPasswordHash: cfg.AdminPasswordHash,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	streamSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.StreamPort()),
		Handler: wsapi.New(wsapi.Deps{
			Aggregator:     agg,
			Topics:         topics,
			JWTSecret:      cfg.JWTSecret,
			AllowedOrigins: cfg.AllowedOrigins,
			MaxMsgBytes:    cfg.MaxMsgBytes,
		}),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("ingestion server listening")
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ingestion server")
		}
	}()
	go func() {
		log.Info().Int("port", cfg.StreamPort()).Msg("streaming server listening")
		if err := streamSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("streaming server")
		}
	}()

	<-sigCh
	log.Info().Msg("shutting down")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()

	if err := ingestSrv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("ingestion server shutdown")
	}
	if err := streamSrv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("streaming server shutdown")
	}
	return nil
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
