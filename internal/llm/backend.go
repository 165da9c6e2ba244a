package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BackendGateway calls the NeighbourBot LLM proxy over HTTP, so the model
// credential never leaves the server.
type BackendGateway struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	timeouts Timeouts
	logger   *zap.Logger
}

// NewBackendGateway creates a gateway that talks to the LLM proxy at baseURL.
func NewBackendGateway(baseURL string, timeouts Timeouts, logger *zap.Logger) *BackendGateway {
	logger = logging.OrNop(logger).With(zap.String("gateway", "backend"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-backend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("🔌 Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BackendGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		breaker:  breaker,
		timeouts: timeouts.withDefaults(),
		logger:   logger,
	}
}

// Name identifies the gateway in logs.
func (g *BackendGateway) Name() string {
	return "backend"
}

// Interpret posts the turn to the proxy's /chat endpoint.
func (g *BackendGateway) Interpret(ctx context.Context, request *TurnRequest) *models.GatewayResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Turn)
	defer cancel()

	recent := request.RecentHistory()
	history := make([]models.ChatMessage, 0, len(recent))
	for _, turn := range recent {
		history = append(history, models.ChatMessage{Role: turn.Role, Content: turn.Message})
	}

	body := models.ChatRequest{
		Message:             request.Message,
		ConversationHistory: history,
		Intents:             request.Intents,
		Context:             request.Context,
	}

	var resp models.ChatResponse
	if err := g.do(ctx, http.MethodPost, "/chat", body, &resp); err != nil {
		errType := ClassifyError(err)
		g.logger.Warn("⚠️ Backend chat failed", zap.String("error_type", string(errType)), zap.Error(err))
		return models.NewErrorResult(errType)
	}

	if resp.Error {
		errType, ok := models.ParseErrorType(resp.ErrorType)
		if !ok {
			errType = ClassifyText(resp.ErrorType + " " + resp.ErrorMessage)
		}
		g.logger.Warn("⚠️ Backend reported an error",
			zap.String("error_type", resp.ErrorType),
			zap.String("error_message", resp.ErrorMessage))
		return models.NewErrorResult(errType)
	}

	result := &models.GatewayResult{
		Entities: resp.Entities,
		Response: resp.Response,
	}
	if result.Entities == nil {
		result.Entities = map[string]any{}
	}
	if resp.Intent != nil {
		result.Intent = strings.TrimSpace(*resp.Intent)
	}
	validateIntent(result, request.Intents)
	return result
}

// FormatAPIResponse asks the proxy to phrase API data; "" on any failure.
func (g *BackendGateway) FormatAPIResponse(ctx context.Context, intent string, apiData any, userQuery string) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Format)
	defer cancel()

	body := models.FormatRequest{Intent: intent, APIData: apiData, UserQuery: userQuery}

	var resp models.FormatResponse
	if err := g.do(ctx, http.MethodPost, "/format", body, &resp); err != nil {
		g.logger.Warn("⚠️ Backend formatting failed", zap.String("intent", intent), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(resp.Formatted)
}

// Check calls the proxy's /health endpoint.
func (g *BackendGateway) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Format)
	defer cancel()

	var resp models.HealthResponse
	if err := g.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	if !resp.LLMAvailable {
		return fmt.Errorf("backend reports LLM unavailable: %s", resp.Message)
	}
	return nil
}

// do performs one JSON call through the circuit breaker.
func (g *BackendGateway) do(ctx context.Context, method, path string, body, out any) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}

		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode backend response: %w", err)
		}
		return nil, nil
	})
	return err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
