package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mooncakeSG/neighbourbot/internal/proxy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var proxyAddr string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the LLM proxy server",
	Long: `Serves /chat, /format, /health and /test for clients that use the backend
gateway, keeping the LLM credential on the server.`,
	RunE: runProxy,
}

func init() {
	proxyCmd.Flags().StringVar(&proxyAddr, "addr", "", "listen address (default PROXY_ADDR)")
}

func runProxy(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if proxyAddr != "" {
		cfg.ProxyAddr = proxyAddr
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	gateway, err := directGateway(ctx)
	if err != nil {
		return err
	}
	if gateway == nil {
		logger.Warn("⚠️ No LLM API key configured, /chat will report SERVICE_UNAVAILABLE",
			zap.String("provider", cfg.LLMProvider))
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
		if err := gateway.Check(checkCtx); err != nil {
			logger.Warn("⚠️ LLM check failed", zap.Error(err))
		}
		cancel()
	}

	err = proxy.New(cfg, gateway, logger).Run(ctx)
	logger.Info("👋 LLM proxy stopped")
	return err
}
