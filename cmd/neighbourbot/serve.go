package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/handlers"
	"github.com/mooncakeSG/neighbourbot/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var idleTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer host chat requests over NATS",
	Long: `Subscribes to NATS_REQUEST_SUBJECT and answers each HostChatRequest with
the bot's replies. Session events are published on
NATS_EVENT_SUBJECT.<session_id>.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "drop in-memory sessions idle this long")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("🚀 Starting NeighbourBot service...",
		zap.String("service", cfg.ServiceName),
		zap.String("nats_url", cfg.NatsURL),
		zap.String("storage", cfg.StorageBackend))

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := sessionDefaults(ctx, store)
	if err != nil {
		return err
	}
	checkDependencies(ctx, opts)

	handler := handlers.NewChatHandler(opts)
	defer handler.Close()

	logger.Info("📡 Connecting to NATS...")
	natsTransport, err := transport.NewNATSTransport(cfg, handler, logger)
	if err != nil {
		return err
	}
	defer natsTransport.Close()

	if err := natsTransport.Start(); err != nil {
		return err
	}
	logger.Info("✅ NeighbourBot service is running", zap.String("subject", cfg.NatsRequestSubject))

	go evictIdle(ctx, handler)

	<-ctx.Done()
	logger.Info("🛑 Shutting down gracefully...", zap.Int("active_sessions", handler.ActiveSessions()))
	return nil
}

func evictIdle(ctx context.Context, handler *handlers.ChatHandler) {
	if idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.Evict(idleTimeout)
		}
	}
}
