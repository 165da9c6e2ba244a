package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/memory"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/mooncakeSG/neighbourbot/internal/prompts"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Timeouts bound each kind of gateway call.
type Timeouts struct {
	Turn   time.Duration
	Format time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Turn <= 0 {
		t.Turn = 30 * time.Second
	}
	if t.Format <= 0 {
		t.Format = 15 * time.Second
	}
	return t
}

// Generation settings
const (
	chatTemperature = 0.7
	chatMaxTokens   = 500
	formatMaxTokens = 300
	checkMaxTokens  = 10
)

var errEmptyResponse = errors.New("model returned an empty response")

// DirectGateway talks to a model from inside the process using a
// langchaingo llms.Model. The credential lives in this process.
type DirectGateway struct {
	model    llms.Model
	name     string
	timeouts Timeouts
	logger   *zap.Logger
}

// NewDirectGateway wraps a langchaingo model as a Gateway.
func NewDirectGateway(model llms.Model, name string, timeouts Timeouts, logger *zap.Logger) *DirectGateway {
	return &DirectGateway{
		model:    model,
		name:     name,
		timeouts: timeouts.withDefaults(),
		logger:   logging.OrNop(logger).With(zap.String("gateway", name)),
	}
}

// NewGroqModel builds a Groq client through its OpenAI-compatible API.
func NewGroqModel(apiKey, model, baseURL string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Groq API key is required")
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Groq client: %w", err)
	}
	return llm, nil
}

// Name identifies the gateway in logs.
func (g *DirectGateway) Name() string {
	return g.name
}

// Interpret asks the model for an intent, entities and a reply.
func (g *DirectGateway) Interpret(ctx context.Context, request *TurnRequest) *models.GatewayResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Turn)
	defer cancel()

	messages, err := g.buildMessages(ctx, request)
	if err != nil {
		g.logger.Error("❌ Failed to build messages", zap.Error(err))
		return models.NewErrorResult(models.ErrUnknown)
	}

	content, err := g.generate(ctx, messages, llms.WithTemperature(chatTemperature), llms.WithMaxTokens(chatMaxTokens))
	if err != nil {
		errType := ClassifyError(err)
		g.logger.Warn("⚠️ LLM interpretation failed", zap.String("error_type", string(errType)), zap.Error(err))
		return models.NewErrorResult(errType)
	}

	result := prompts.ParseReply(content)
	validateIntent(result, request.Intents)

	g.logger.Debug("🤖 LLM interpreted message", zap.String("intent", result.Intent))
	return result
}

func (g *DirectGateway) buildMessages(ctx context.Context, request *TurnRequest) ([]llms.MessageContent, error) {
	system := prompts.BuildSystemPrompt(request.Intents, prompts.NeighbourhoodName(request.Context))

	history, err := memory.ToChatMessages(ctx, request.RecentHistory())
	if err != nil {
		return nil, err
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for _, msg := range history {
		messages = append(messages, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, request.Message))
	return messages, nil
}

// FormatAPIResponse asks the model to phrase API data; "" on any failure.
func (g *DirectGateway) FormatAPIResponse(ctx context.Context, intent string, apiData any, userQuery string) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Format)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompts.FormatSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompts.BuildFormatPrompt(intent, apiData, userQuery)),
	}

	content, err := g.generate(ctx, messages, llms.WithTemperature(chatTemperature), llms.WithMaxTokens(formatMaxTokens))
	if err != nil {
		g.logger.Warn("⚠️ LLM formatting failed", zap.String("intent", intent), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(content)
}

// Check sends a minimal prompt to confirm the model answers.
func (g *DirectGateway) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Format)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompts.CheckPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, "Test"),
	}
	if _, err := g.generate(ctx, messages, llms.WithMaxTokens(checkMaxTokens)); err != nil {
		return fmt.Errorf("%s check failed: %w", g.name, err)
	}
	return nil
}

type generation struct {
	content string
	err     error
}

// generate runs the model call and gives up when ctx expires, even if the
// model itself does not watch ctx.
func (g *DirectGateway) generate(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	done := make(chan generation, 1)

	go func() {
		resp, err := g.model.GenerateContent(ctx, messages, options...)
		if err != nil {
			done <- generation{err: err}
			return
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			done <- generation{err: errEmptyResponse}
			return
		}
		done <- generation{content: resp.Choices[0].Content}
	}()

	select {
	case res := <-done:
		return res.content, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
