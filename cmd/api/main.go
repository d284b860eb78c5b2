package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/api"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/bridge"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/config"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
)

func main() {
	flag.Parse()

	// A missing .env is fine
	_ = godotenv.Load(*envFile)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)

	logger.Info().
		Str("service", "api").
		Str("environment", string(cfg.Environment)).
		Msg("Starting satoshi-bridge API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bridge.New(ctx, cfg, bridge.Options{}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize bridge services")
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing bridge services")
		}
	}()

	// Create API server
	server := api.NewServer(cfg, b.Env(), b.APIDeps(), logger)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	logger.Info().
		Str("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("API server started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	logger.Info().Msg("API server stopped")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Environment == types.EnvironmentDev || cfg.Environment == types.EnvironmentTestnet {
		// Pretty logging for development
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if cfg.Logging.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   true,
		})
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
}
