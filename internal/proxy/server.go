// Package proxy is the HTTP service that holds the LLM credential and
// answers /chat and /format for clients running the backend gateway.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mooncakeSG/neighbourbot/internal/config"
	"github.com/mooncakeSG/neighbourbot/internal/llm"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"go.uber.org/zap"
)

const (
	checkTimeout    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server is the LLM proxy HTTP server.
type Server struct {
	addr    string
	gateway llm.Gateway
	limiter *clientLimiter
	origins []string
	logger  *zap.Logger
	router  *gin.Engine
}

// New builds the proxy. A nil gateway keeps the server up but answers every
// chat with SERVICE_UNAVAILABLE.
func New(cfg *config.Config, gateway llm.Gateway, logger *zap.Logger) *Server {
	s := &Server{
		addr:    cfg.ProxyAddr,
		gateway: gateway,
		limiter: newClientLimiter(cfg.ProxyRateLimit, cfg.ProxyRateBurst),
		origins: cfg.CORSOrigins,
		logger:  logging.OrNop(logger),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.cors())

	router.GET("/", s.root)
	router.GET("/health", s.health)
	router.GET("/test", s.test)

	limited := router.Group("/", s.rateLimit())
	limited.POST("/chat", s.chat)
	limited.POST("/format", s.format)

	s.router = router
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 LLM proxy listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:       "ok",
		LLMAvailable: s.gateway != nil,
		Message:      "NeighbourBot API is running",
	})
}

func (s *Server) health(c *gin.Context) {
	available := false
	if s.gateway != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()
		if err := s.gateway.Check(ctx); err != nil {
			s.logger.Warn("⚠️ LLM health check failed", zap.Error(err))
		} else {
			available = true
		}
	}

	message := "API is healthy"
	if !available {
		message = "API is running but the LLM is unavailable"
	}
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:       "ok",
		LLMAvailable: available,
		Message:      message,
	})
}

func (s *Server) test(c *gin.Context) {
	if s.gateway == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "LLM client not initialized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()
	if err := s.gateway.Check(ctx); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"error":      err.Error(),
			"error_type": llm.ClassifyError(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": s.gateway.Name() + " API is working",
	})
}

func (s *Server) chat(c *gin.Context) {
	var request models.ChatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	if s.gateway == nil {
		c.JSON(http.StatusOK, models.ChatResponse{
			Entities:     map[string]any{},
			Response:     "AI service is not available. Please check server configuration.",
			Error:        true,
			ErrorType:    models.ErrorUnavailable,
			ErrorMessage: "LLM API key not configured",
		})
		return
	}

	result := s.gateway.Interpret(c.Request.Context(), &llm.TurnRequest{
		Message: request.Message,
		History: historyTurns(request.ConversationHistory),
		Intents: request.Intents,
		Context: request.Context,
	})
	if result == nil {
		result = models.NewErrorResult(models.ErrUnknown)
	}

	if result.Error {
		c.JSON(http.StatusOK, models.ChatResponse{
			Entities:     map[string]any{},
			Response:     result.ErrorMessage,
			Error:        true,
			ErrorType:    string(result.ErrorType),
			ErrorMessage: result.ErrorMessage,
		})
		return
	}

	response := models.ChatResponse{
		Entities: result.Entities,
		Response: result.Response,
	}
	if response.Entities == nil {
		response.Entities = map[string]any{}
	}
	if result.Intent != "" {
		intent := result.Intent
		response.Intent = &intent
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) format(c *gin.Context) {
	var request models.FormatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	formatted := ""
	if s.gateway != nil {
		formatted = s.gateway.FormatAPIResponse(c.Request.Context(), request.Intent, request.APIData, request.UserQuery)
	}
	c.JSON(http.StatusOK, models.FormatResponse{Formatted: formatted})
}

// historyTurns converts proxy history to conversation turns. Unknown roles
// are treated as the user.
func historyTurns(messages []models.ChatMessage) []models.ConversationTurn {
	turns := make([]models.ConversationTurn, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role != models.RoleUser && role != models.RoleAssistant {
			role = models.RoleUser
		}
		turns = append(turns, models.ConversationTurn{Role: role, Message: msg.Content})
	}
	return turns
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("📨 Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client", c.ClientIP()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_type": models.ErrRateLimit,
			})
			return
		}
		c.Next()
	}
}

// cors allows the configured origins; "*" allows any.
func (s *Server) cors() gin.HandlerFunc {
	allowAll := slices.Contains(s.origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || slices.Contains(s.origins, origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
