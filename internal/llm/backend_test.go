package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mooncakeSG/neighbourbot/internal/config"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendInterpret(t *testing.T) {
	requests := make(chan models.ChatRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req models.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req

		intent := "create_alert"
		json.NewEncoder(w).Encode(models.ChatResponse{
			Intent:   &intent,
			Entities: map[string]any{"content": "water outage"},
			Response: "Creating your alert",
		})
	}))
	defer server.Close()

	history := make([]models.ConversationTurn, 12)
	for i := range history {
		history[i] = models.ConversationTurn{Role: models.RoleUser, Message: "m"}
	}

	g := NewBackendGateway(server.URL+"/", Timeouts{}, nil)
	result := g.Interpret(context.Background(), &TurnRequest{
		Message: "create alert: water outage",
		History: history,
		Intents: testIntents,
		Context: map[string]any{"session_id": "s1", "neighbourhood_id": nil},
	})

	assert.False(t, result.Error)
	assert.Equal(t, "create_alert", result.Intent)
	assert.Equal(t, "water outage", result.Entities["content"])
	assert.Equal(t, "Creating your alert", result.Response)

	got := <-requests
	assert.Equal(t, "create alert: water outage", got.Message)
	assert.Len(t, got.ConversationHistory, HistoryWindow)
	assert.Len(t, got.Intents, len(testIntents))
	assert.Equal(t, "s1", got.Context["session_id"])
	assert.Contains(t, got.Context, "neighbourhood_id")
}

func TestBackendInterpretReportedError(t *testing.T) {
	tests := []struct {
		name string
		resp models.ChatResponse
		want models.ErrorType
	}{
		{"known type", models.ChatResponse{Error: true, ErrorType: "RATE_LIMIT"}, models.ErrRateLimit},
		{"unknown type classified by text", models.ChatResponse{Error: true, ErrorType: "API_ERROR", ErrorMessage: "401 Unauthorized"}, models.ErrAuth},
		{"service unavailable", models.ChatResponse{Error: true, ErrorType: "SERVICE_UNAVAILABLE"}, models.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.resp)
			}))
			defer server.Close()

			g := NewBackendGateway(server.URL, Timeouts{}, nil)
			result := g.Interpret(context.Background(), &TurnRequest{Message: "x"})
			assert.True(t, result.Error)
			assert.Equal(t, tt.want, result.ErrorType)
		})
	}
}

func TestBackendInterpretHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	g := NewBackendGateway(server.URL, Timeouts{}, nil)
	result := g.Interpret(context.Background(), &TurnRequest{Message: "x"})
	assert.True(t, result.Error)
	assert.Equal(t, models.ErrServer, result.ErrorType)

	// Nothing listening.
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	g = NewBackendGateway(url, Timeouts{}, nil)
	result = g.Interpret(context.Background(), &TurnRequest{Message: "x"})
	assert.True(t, result.Error)
	assert.Equal(t, models.ErrNetwork, result.ErrorType)
}

func TestBackendCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	g := NewBackendGateway(server.URL, Timeouts{}, nil)
	for i := 0; i < 5; i++ {
		g.Interpret(context.Background(), &TurnRequest{Message: "x"})
	}
	require.Equal(t, int32(5), hits.Load())

	result := g.Interpret(context.Background(), &TurnRequest{Message: "x"})
	assert.True(t, result.Error)
	assert.Equal(t, models.ErrServer, result.ErrorType)
	assert.Equal(t, int32(5), hits.Load())
}

func TestBackendFormatAndCheck(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/format":
			var req models.FormatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "get_alerts", req.Intent)
			assert.Equal(t, "any alerts?", req.UserQuery)
			json.NewEncoder(w).Encode(models.FormatResponse{Formatted: "Two alerts today."})
		case "/health":
			json.NewEncoder(w).Encode(models.HealthResponse{Status: "ok", LLMAvailable: available.Load(), Message: "API is healthy"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	g := NewBackendGateway(server.URL, Timeouts{}, nil)
	assert.Equal(t, "Two alerts today.", g.FormatAPIResponse(context.Background(), "get_alerts", []any{}, "any alerts?"))
	assert.NoError(t, g.Check(context.Background()))

	available.Store(false)
	assert.Error(t, g.Check(context.Background()))
}

func TestNewSelectsGateway(t *testing.T) {
	cfg := &config.Config{LLMProvider: "groq"}
	g, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	cfg = &config.Config{LLMProvider: "groq", BackendURL: "http://localhost:8000", UseBackend: true, GroqAPIKey: "k"}
	g, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &BackendGateway{}, g)

	cfg = &config.Config{LLMProvider: "groq", GroqAPIKey: "k", GroqModel: "m", GroqBaseURL: "http://localhost:1"}
	g, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &DirectGateway{}, g)
	assert.Equal(t, "groq", g.Name())
}
