package llm

import (
	"context"
	"fmt"

	"github.com/mooncakeSG/neighbourbot/internal/config"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// HistoryWindow is the number of past turns sent with each request.
const HistoryWindow = 10

// Gateway is the single contract for LLM interpretation. Implementations
// never return Go errors from Interpret; failures come back as an error
// GatewayResult so callers can fall back uniformly.
type Gateway interface {
	Name() string

	// Interpret asks the model which intent (if any) the message expresses.
	Interpret(ctx context.Context, request *TurnRequest) *models.GatewayResult

	// FormatAPIResponse summarizes apiData in prose. "" means no summary.
	FormatAPIResponse(ctx context.Context, intent string, apiData any, userQuery string) string

	// Check verifies the gateway can reach its model.
	Check(ctx context.Context) error
}

// TurnRequest carries one user message and its conversation context.
type TurnRequest struct {
	Message string
	History []models.ConversationTurn
	Intents []models.Intent
	Context map[string]any
}

// RecentHistory returns the last HistoryWindow turns.
func (r *TurnRequest) RecentHistory() []models.ConversationTurn {
	if len(r.History) <= HistoryWindow {
		return r.History
	}
	return r.History[len(r.History)-HistoryWindow:]
}

// New builds the gateway selected by cfg. It returns (nil, nil) when no
// gateway is configured; callers then rely on rule-based matching only.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.GatewayMode() {
	case config.GatewayBackend:
		return NewBackendGateway(cfg.BackendURL, Timeouts{Turn: cfg.LLMTimeout, Format: cfg.FormatTimeout}, logger), nil

	case config.GatewayDirect:
		model, err := NewModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewDirectGateway(model, cfg.LLMProvider, Timeouts{Turn: cfg.LLMTimeout, Format: cfg.FormatTimeout}, logger), nil
	}
	return nil, nil
}

// NewModel builds the langchaingo model for the configured direct provider.
func NewModel(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case "groq":
		model, err := NewGroqModel(cfg.GroqAPIKey, cfg.GroqModel, cfg.GroqBaseURL)
		if err != nil {
			return nil, err
		}
		return model, nil
	case "gemini":
		model, err := NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}

// validateIntent drops an intent name the catalog does not define.
func validateIntent(result *models.GatewayResult, intents []models.Intent) {
	if result.Intent == "" {
		return
	}
	for _, intent := range intents {
		if intent.Name == result.Intent {
			return
		}
	}
	result.Intent = ""
}
