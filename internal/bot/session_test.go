package bot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/catalog"
	"github.com/mooncakeSG/neighbourbot/internal/llm"
	"github.com/mooncakeSG/neighbourbot/internal/memory"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/mooncakeSG/neighbourbot/internal/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type apiCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// platform fakes the platform REST API and records every call.
type platform struct {
	server *httptest.Server

	mu      sync.Mutex
	calls   []apiCall
	respond func(w http.ResponseWriter, r *http.Request)
}

func newPlatform(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *platform {
	t.Helper()
	p := &platform{respond: respond}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := apiCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &call.Body))
		}
		p.mu.Lock()
		p.calls = append(p.calls, call)
		p.mu.Unlock()
		p.respond(w, r)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *platform) Calls() []apiCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]apiCall(nil), p.calls...)
}

func respondJSON(status int, v any) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
}

type fakeGateway struct {
	interpret func(ctx context.Context, req *llm.TurnRequest) *models.GatewayResult
	format    func(intent string, apiData any) string

	mu       sync.Mutex
	requests []*llm.TurnRequest
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Interpret(ctx context.Context, req *llm.TurnRequest) *models.GatewayResult {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.interpret(ctx, req)
}

func (g *fakeGateway) FormatAPIResponse(_ context.Context, intent string, apiData any, _ string) string {
	if g.format == nil {
		return ""
	}
	return g.format(intent, apiData)
}

func (g *fakeGateway) Check(context.Context) error { return nil }

func (g *fakeGateway) lastRequest() *llm.TurnRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

// stallingModel never answers before its context ends.
type stallingModel struct{}

func (stallingModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingModel) Call(ctx context.Context, _ string, _ ...llms.CallOption) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)
	return cat
}

func newTestSession(t *testing.T, api *platform, gateway llm.Gateway) *Session {
	t.Helper()
	opts := Options{
		Catalog:         testCatalog(t),
		NeighbourhoodID: "nb-1",
		AccessToken:     "token",
		APITimeout:      5 * time.Second,
	}
	if api != nil {
		opts.APIBase = api.server.URL
	}
	if gateway != nil {
		opts.Gateway = gateway
	}
	s, err := NewSession(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) find(t EventType) *Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].Type == t {
			e := l.events[i]
			return &e
		}
	}
	return nil
}

func TestNewSessionRequiresCatalog(t *testing.T) {
	_, err := NewSession(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestNewSessionWelcome(t *testing.T) {
	s := newTestSession(t, nil, nil)
	cat := testCatalog(t)

	assert.Equal(t, Idle, s.State())
	assert.NotEmpty(t, s.ID())

	history := s.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleAssistant, history[0].Role)
	assert.Equal(t, cat.WelcomeMessage(), history[0].Message)
	require.NotNil(t, history[0].Metadata)
	assert.Equal(t, cat.Suggestions(), history[0].Metadata.Suggestions)
	assert.Equal(t, "nb-1", s.Context()["neighbourhood_id"])
}

func TestHandleMessageBlankIgnored(t *testing.T) {
	s := newTestSession(t, nil, nil)

	replies, err := s.HandleMessage(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, replies)
	assert.Len(t, s.History(0), 1)
}

func TestHandleMessageFallback(t *testing.T) {
	s := newTestSession(t, nil, nil)
	cat := testCatalog(t)

	replies, err := s.HandleMessage(context.Background(), "What's the weather like?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, cat.FallbackMessage(), replies[0].Message)
	assert.Equal(t, cat.Suggestions(), replies[0].Metadata.Suggestions)
	assert.Equal(t, Idle, s.State())

	history := s.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "What's the weather like?", history[1].Message)
}

func TestHandleMessageCreateAlert(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusCreated, map[string]any{"data": map[string]any{"id": 7}}))
	s := newTestSession(t, api, nil)
	events := &eventLog{}
	s.Subscribe(events.listen)

	replies, err := s.HandleMessage(context.Background(), "create alert: water outage on Main Road")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Successfully created alert!", replies[0].Message)
	assert.Equal(t, map[string]any{"id": float64(7)}, replies[0].Metadata.Data)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/posts/", calls[0].Path)
	assert.Equal(t, map[string]any{
		"content":          "water outage on Main Road",
		"neighbourhood_id": "nb-1",
		"type":             "alert",
	}, calls[0].Body)

	assert.Equal(t, []EventType{EventMessage, EventMessage, EventActionExecuted}, events.types())
	assert.Equal(t, "create_alert", events.find(EventActionExecuted).Intent)
	assert.Equal(t, "create_alert", s.memory.LastIntent())
}

func TestHandleMessageMissingEntities(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, map[string]any{}))
	s := newTestSession(t, api, nil)

	replies, err := s.HandleMessage(context.Background(), "create alert")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "I need more information. Please provide: content.", replies[0].Message)
	assert.Empty(t, api.Calls())
}

func TestConfirmationDeclined(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusCreated, map[string]any{"id": 1}))
	s := newTestSession(t, api, nil)
	events := &eventLog{}
	s.Subscribe(events.listen)

	replies, err := s.HandleMessage(context.Background(), "sell: mountain bike for R150")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, `Are you sure you want to create market item? Type "yes" to confirm or "no" to cancel.`, replies[0].Message)
	assert.Equal(t, []string{"Yes", "No"}, replies[0].Metadata.Suggestions)
	assert.Equal(t, AwaitingConfirmation, s.State())
	require.NotNil(t, s.Pending())
	assert.Equal(t, "create_market_item", s.Pending().Intent.Name)
	assert.Equal(t, "create_market_item", events.find(EventConfirmationRequested).Intent)

	replies, err = s.HandleMessage(context.Background(), "no")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Action cancelled.", replies[0].Message)
	assert.Equal(t, Idle, s.State())
	assert.Nil(t, s.Pending())
	assert.Empty(t, api.Calls())
}

func TestConfirmationAccepted(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusCreated, map[string]any{"id": 1}))
	s := newTestSession(t, api, nil)

	_, err := s.HandleMessage(context.Background(), "sell: mountain bike for R150")
	require.NoError(t, err)

	replies, err := s.HandleMessage(context.Background(), "Yes please")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Item listed successfully!", replies[0].Message)
	assert.Equal(t, "marketplace", replies[0].Metadata.DataType)
	assert.Equal(t, Idle, s.State())

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/marketplace/", calls[0].Path)
	assert.Equal(t, map[string]any{
		"title":            "mountain bike",
		"price":            float64(150),
		"neighbourhood_id": "nb-1",
	}, calls[0].Body)

	// The pending action is gone; a second yes does nothing.
	replies, err = s.HandleMessage(context.Background(), "yes")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, testCatalog(t).FallbackMessage(), replies[0].Message)
	assert.Len(t, api.Calls(), 1)
}

func TestNeighbourhoodChange(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, map[string]any{"data": map[string]any{"neighbourhood_id": "rosebank"}}))
	s := newTestSession(t, api, nil)
	events := &eventLog{}
	s.Subscribe(events.listen)

	_, err := s.HandleMessage(context.Background(), "change neighbourhood: rosebank")
	require.NoError(t, err)
	require.Equal(t, AwaitingConfirmation, s.State())

	_, err = s.HandleMessage(context.Background(), "ok")
	require.NoError(t, err)

	changed := events.find(EventNeighbourhoodChanged)
	require.NotNil(t, changed)
	assert.Equal(t, "rosebank", changed.NeighbourhoodID)
	assert.Equal(t, s.ID(), changed.SessionID)
	assert.Equal(t, "rosebank", s.Context()["neighbourhood_id"])
}

func TestActionFailure(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusInternalServerError, map[string]any{"detail": "boom"}))
	s := newTestSession(t, api, nil)
	events := &eventLog{}
	s.Subscribe(events.listen)

	replies, err := s.HandleMessage(context.Background(), "any alerts?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Server error. Please try again later.", replies[0].Message)
	assert.Equal(t, testCatalog(t).Suggestions(), replies[0].Metadata.Suggestions)

	failed := events.find(EventActionFailed)
	require.NotNil(t, failed)
	assert.Equal(t, "get_alerts", failed.Intent)
	assert.Equal(t, "boom", failed.Error)
}

func TestGatewayIntent(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, []any{}))
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return &models.GatewayResult{Intent: "get_notifications", Entities: map[string]any{}, Response: "Let me check."}
		},
	}
	s := newTestSession(t, api, gateway)

	replies, err := s.HandleMessage(context.Background(), "anything new for me?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "No notifications at the moment.", replies[0].Message)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/notifications/", calls[0].Path)

	req := gateway.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "anything new for me?", req.Message)
	require.Len(t, req.History, 1, "history excludes the message being interpreted")
	assert.Equal(t, models.RoleAssistant, req.History[0].Role)
	assert.Equal(t, "nb-1", req.Context["neighbourhood_id"])
	assert.NotEmpty(t, req.Intents)
}

func TestGatewayEntitiesCompletedByExtractors(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusCreated, map[string]any{"id": 2}))
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return &models.GatewayResult{Intent: "create_alert", Entities: map[string]any{}}
		},
	}
	s := newTestSession(t, api, gateway)

	_, err := s.HandleMessage(context.Background(), "please raise alert: tree down on 5th Street")
	require.NoError(t, err)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "tree down on 5th Street", calls[0].Body["content"])
}

func TestGatewayFollowUpQuestion(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, map[string]any{}))
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return &models.GatewayResult{
				Intent:   "create_alert",
				Entities: map[string]any{},
				Response: "What should the alert say?",
			}
		},
	}
	s := newTestSession(t, api, gateway)

	replies, err := s.HandleMessage(context.Background(), "raise an alert")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "What should the alert say?", replies[0].Message)
	assert.Empty(t, api.Calls())
}

func TestGatewayConversationalReply(t *testing.T) {
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return &models.GatewayResult{Entities: map[string]any{}, Response: "Hello neighbour!"}
		},
	}
	s := newTestSession(t, nil, gateway)

	replies, err := s.HandleMessage(context.Background(), "hi there")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hello neighbour!", replies[0].Message)
	assert.Equal(t, testCatalog(t).Suggestions(), replies[0].Metadata.Suggestions)
}

func TestGatewayReplyWithoutResponseUsesFallback(t *testing.T) {
	raws := []string{
		`{"intent": null, "entities": {}}`,
		`{"intent": "order_pizza", "entities": {}}`,
	}
	for _, raw := range raws {
		t.Run(raw, func(t *testing.T) {
			gateway := &fakeGateway{
				interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
					return prompts.ParseReply(raw)
				},
			}
			s := newTestSession(t, nil, gateway)

			replies, err := s.HandleMessage(context.Background(), "What's the weather like?")
			require.NoError(t, err)
			require.Len(t, replies, 1)
			assert.Equal(t, testCatalog(t).FallbackMessage(), replies[0].Message)
		})
	}
}

func TestGatewayFormatsResult(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, []any{map[string]any{"id": 1}}))
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return models.NewErrorResult(models.ErrRateLimit)
		},
		format: func(intent string, apiData any) string {
			return "There is one alert on your street."
		},
	}
	s := newTestSession(t, api, gateway)

	replies, err := s.HandleMessage(context.Background(), "any alerts?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "There is one alert on your street.", replies[0].Message)
}

func TestGatewayTimeoutFallsBackToMatcher(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusOK, []any{map[string]any{"id": 1}}))
	gateway := llm.NewDirectGateway(stallingModel{}, "stalling", llm.Timeouts{
		Turn:   20 * time.Millisecond,
		Format: 20 * time.Millisecond,
	}, nil)
	s := newTestSession(t, api, gateway)

	replies, err := s.HandleMessage(context.Background(), "any alerts?")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Here are the current alerts:", replies[0].Message)

	calls := api.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/posts/", calls[0].Path)
	assert.Equal(t, "neighbourhood_id=nb-1&type=alert", calls[0].Query)
}

func TestPanicRecovered(t *testing.T) {
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			panic("gateway exploded")
		},
	}
	s := newTestSession(t, nil, gateway)

	replies, err := s.HandleMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, testCatalog(t).ErrorMessage(), replies[0].Message)
	assert.Equal(t, Idle, s.State())

	// The session keeps working.
	_, err = s.HandleMessage(context.Background(), "hello again")
	assert.NoError(t, err)
}

func TestPanicDuringConfirmedAction(t *testing.T) {
	api := newPlatform(t, respondJSON(http.StatusCreated, map[string]any{"id": 1}))
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			return &models.GatewayResult{
				Intent:   "create_market_item",
				Entities: map[string]any{"title": "bike", "price": 100.0},
			}
		},
		format: func(string, any) string {
			panic("formatter exploded")
		},
	}
	s := newTestSession(t, api, gateway)

	_, err := s.HandleMessage(context.Background(), "I want to list my bike")
	require.NoError(t, err)
	require.Equal(t, AwaitingConfirmation, s.State())

	replies, err := s.HandleMessage(context.Background(), "yes")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, testCatalog(t).ErrorMessage(), replies[0].Message)
	assert.Equal(t, Idle, s.State())
	assert.Nil(t, s.Pending())
	assert.Len(t, api.Calls(), 1)
}

func TestHandleMessageBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gateway := &fakeGateway{
		interpret: func(context.Context, *llm.TurnRequest) *models.GatewayResult {
			close(entered)
			<-release
			return &models.GatewayResult{Entities: map[string]any{}, Response: "done"}
		},
	}
	s := newTestSession(t, nil, gateway)

	done := make(chan error, 1)
	go func() {
		_, err := s.HandleMessage(context.Background(), "first")
		done <- err
	}()

	<-entered
	_, err := s.HandleMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	history := s.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[1].Message)
	assert.Equal(t, "done", history[2].Message)
}

func TestSessionResumesStoredContext(t *testing.T) {
	store := memory.NewMemoryStore()
	cat := testCatalog(t)

	first, err := NewSession(context.Background(), Options{SessionID: "session_resume", Catalog: cat, Store: store})
	require.NoError(t, err)
	_, err = first.HandleMessage(context.Background(), "What's the weather like?")
	require.NoError(t, err)
	first.Close()

	second, err := NewSession(context.Background(), Options{SessionID: "session_resume", Catalog: cat, Store: store})
	require.NoError(t, err)
	defer second.Close()

	history := second.History(0)
	require.Len(t, history, 4)
	assert.Equal(t, "What's the weather like?", history[1].Message)
	assert.Equal(t, cat.WelcomeMessage(), history[3].Message)
}

func TestReset(t *testing.T) {
	s := newTestSession(t, nil, nil)
	_, err := s.HandleMessage(context.Background(), "sell: bike for 50")
	require.NoError(t, err)
	require.Equal(t, AwaitingConfirmation, s.State())

	s.Reset()
	assert.Equal(t, Idle, s.State())
	assert.Nil(t, s.Pending())
	assert.Len(t, s.History(0), 1)
	assert.Nil(t, s.Context()["neighbourhood_id"])
}

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"Yes please", true},
		{"y", true},
		{"OK, go ahead", true},
		{"sure thing!", true},
		{"confirmed", true},
		{"no", false},
		{"yes, but not now", false},
		{"don't", false},
		{"Don’t do it, yes I know", false},
		{"eyes", false},
		{"maybe later", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAffirmative(tt.text))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_confirmation", AwaitingConfirmation.String())
}
