package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/bot"
	"github.com/mooncakeSG/neighbourbot/internal/catalog"
	"github.com/mooncakeSG/neighbourbot/internal/executor"
	"github.com/mooncakeSG/neighbourbot/internal/llm"
	"github.com/mooncakeSG/neighbourbot/internal/memory"
	"go.uber.org/zap"
)

const startupCheckTimeout = 10 * time.Second

// openStore opens the context store selected by STORAGE_BACKEND.
func openStore() (memory.Store, error) {
	switch cfg.StorageBackend {
	case "redis":
		logger.Info("🔌 Connecting to Redis...", zap.String("url", cfg.RedisURL))
		store, err := memory.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("✅ Redis connected")
		return store, nil

	case "badger":
		logger.Info("💾 Opening Badger store...", zap.String("path", cfg.BadgerPath))
		store, err := memory.NewBadgerStore(cfg.BadgerPath, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open Badger store: %w", err)
		}
		return store, nil
	}

	logger.Info("🧠 Keeping context in memory")
	return memory.NewMemoryStore(), nil
}

// sessionDefaults loads the catalog and the configured gateway. The
// gateway is nil when no LLM is configured.
func sessionDefaults(ctx context.Context, store memory.Store) (bot.Options, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return bot.Options{}, err
	}
	logger.Info("📋 Intent catalog loaded", zap.Int("intents", len(cat.Intents())))

	gateway, err := llm.New(ctx, cfg, logger)
	if err != nil {
		return bot.Options{}, fmt.Errorf("failed to initialize LLM gateway: %w", err)
	}

	opts := bot.Options{
		Catalog:         cat,
		Store:           store,
		APIBase:         cfg.APIBase,
		AccessToken:     cfg.APIToken,
		NeighbourhoodID: cfg.NeighbourhoodID,
		APITimeout:      cfg.APITimeout,
		Logger:          logger,
	}
	if gateway != nil {
		opts.Gateway = gateway
		logger.Info("🤖 LLM gateway ready", zap.String("gateway", gateway.Name()), zap.String("mode", cfg.GatewayMode()))
	} else {
		logger.Warn("⚠️ No LLM configured, using rule-based matching only")
	}
	return opts, nil
}

// checkDependencies logs the state of the platform API and the LLM. Neither
// is fatal: the bot degrades to fallback replies.
func checkDependencies(ctx context.Context, opts bot.Options) {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	client := executor.NewAPIClient(opts.APIBase, opts.AccessToken, startupCheckTimeout, logger)
	if err := client.Healthy(ctx); err != nil {
		logger.Warn("⚠️ Platform API not reachable", zap.String("api_base", opts.APIBase), zap.Error(err))
	} else {
		logger.Info("✅ Platform API reachable", zap.String("api_base", opts.APIBase))
	}

	if opts.Gateway == nil {
		return
	}
	if err := opts.Gateway.Check(ctx); err != nil {
		logger.Warn("⚠️ LLM check failed",
			zap.String("error_type", string(llm.ClassifyError(err))),
			zap.Error(err))
	} else {
		logger.Info("✅ LLM reachable")
	}
}

// directGateway builds an in-process gateway for the proxy, or nil when the
// provider has no credential.
func directGateway(ctx context.Context) (llm.Gateway, error) {
	if cfg.LLMAPIKey() == "" {
		return nil, nil
	}
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewDirectGateway(model, cfg.LLMProvider, llm.Timeouts{
		Turn:   cfg.LLMTimeout,
		Format: cfg.FormatTimeout,
	}, logger), nil
}
