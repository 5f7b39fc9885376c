// Package main is the entry point for the ticket platform auth server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment variables, via internal/config)
// 2. Create process-wide dependencies (logger, event publisher)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/sakif/ticket-platform/internal/config"
	"github.com/sakif/ticket-platform/internal/events"
	"github.com/sakif/ticket-platform/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// envconfig fills config.App from PORT, JWT_SECRET, SUPABASE_URL, ...
	// A missing JWT_SECRET is fatal: every protected route depends on it.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json suits log shippers; the text handler is easier to read
	// in a terminal.
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	// === 3. EVENT PUBLISHER ===
	// RabbitMQ is optional. When it is unreachable at startup the server runs
	// anyway and drops events.
	var publisher events.Publisher = events.NewNoop()
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, user events will be dropped",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("publishing user events", slog.String("exchange", cfg.AMQPExchange))
			publisher = rabbit
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger, server.WithPublisher(publisher))
	if err != nil {
		publisher.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg config.App) *slog.Logger {
	level, _ := cfg.SlogLevel() // validated by config.Load
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
