package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/countdown"
	"github.com/mcdev12/voteroom/internal/gateway"
	"github.com/mcdev12/voteroom/internal/gateway/natsmirror"
	"github.com/mcdev12/voteroom/internal/room"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", config.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", config.Port).
		Int("voting_window_sec", config.VotingWindowSec).
		Msg("starting voteroom coordinator")

	// Wire the core
	clock := clockwork.NewRealClock()
	registry := room.NewRegistry(clock, time.Duration(config.VotingWindowSec)*time.Second)
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	scheduler := countdown.NewScheduler(clock, registry, manager)
	svc := gateway.NewService(registry, scheduler, manager)

	// Optional NATS event mirror
	var mirror *natsmirror.Mirror
	if config.NATSURL != "" {
		mirrorCfg := natsmirror.DefaultConfig()
		mirrorCfg.URL = config.NATSURL
		mirror, err = natsmirror.New(mirrorCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start NATS event mirror")
		}
		manager.SetSink(mirror)
	}

	server := setupServer(config, svc)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	scheduler.StopAll()
	if mirror != nil {
		mirror.Close()
	}

	log.Info().Msg("voteroom coordinator shutdown complete")
}
