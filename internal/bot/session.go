// Package bot runs a NeighbourBot conversation: it interprets each user
// message, asks for confirmation where an action needs it, executes the
// action against the platform API and records every turn.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/catalog"
	"github.com/mooncakeSG/neighbourbot/internal/executor"
	"github.com/mooncakeSG/neighbourbot/internal/llm"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/matcher"
	"github.com/mooncakeSG/neighbourbot/internal/memory"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"go.uber.org/zap"
)

var (
	ErrNoCatalog = errors.New("intent catalog is required")
	ErrBusy      = errors.New("a message is already being processed")
)

const cancelledMessage = "Action cancelled."

// State is where a session sits in the confirmation flow.
type State int

const (
	Idle State = iota
	AwaitingConfirmation
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a new Session.
type Options struct {
	// SessionID selects the stored context to resume. Empty starts a new
	// session.
	SessionID string

	Catalog *catalog.Catalog

	// Gateway interprets messages and formats results. Nil runs on the
	// rule-based matcher alone.
	Gateway llm.Gateway

	// Store persists the conversation context. Nil keeps it in memory.
	Store memory.Store

	APIBase         string
	AccessToken     string
	NeighbourhoodID string
	APITimeout      time.Duration

	Logger *zap.Logger
}

// Session is one user's conversation. Turns are processed one at a time;
// a message arriving while another is in flight is rejected with ErrBusy.
type Session struct {
	id       string
	catalog  *catalog.Catalog
	matcher  *matcher.Matcher
	memory   *memory.Manager
	gateway  llm.Gateway
	client   *executor.APIClient
	executor *executor.Executor
	logger   *zap.Logger

	busy atomic.Bool

	mu        sync.Mutex
	state     State
	pending   *models.PendingAction
	listeners []Listener
}

// NewSession builds a session, restores any stored context for
// opts.SessionID and appends the welcome message.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Catalog == nil {
		return nil, ErrNoCatalog
	}

	id := opts.SessionID
	if id == "" {
		id = memory.NewSessionID()
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = 30 * time.Second
	}
	logger := logging.OrNop(opts.Logger).With(zap.String("session_id", id))

	mem := memory.NewManager(id, opts.Store, opts.Logger)
	if err := mem.LoadFromStorage(ctx); err != nil {
		logger.Warn("⚠️ Could not load stored context, starting fresh", zap.Error(err))
	}
	if opts.NeighbourhoodID != "" {
		mem.SetNeighbourhood(opts.NeighbourhoodID)
	}

	client := executor.NewAPIClient(opts.APIBase, opts.AccessToken, opts.APITimeout, opts.Logger)

	// A nil interface, not a typed nil, when there is no gateway.
	var formatter executor.Formatter
	if opts.Gateway != nil {
		formatter = opts.Gateway
	}

	s := &Session{
		id:       id,
		catalog:  opts.Catalog,
		matcher:  matcher.New(opts.Catalog.Intents()),
		memory:   mem,
		gateway:  opts.Gateway,
		client:   client,
		executor: executor.New(client, mem, opts.Catalog, formatter, opts.Logger),
		logger:   logger,
	}

	s.memory.AddToHistory(models.RoleAssistant, s.catalog.WelcomeMessage(), &models.TurnMetadata{
		Suggestions: s.catalog.Suggestions(),
	})

	logger.Info("💬 Session started", zap.Bool("llm", opts.Gateway != nil))
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State reports whether a confirmation is pending.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the action awaiting confirmation, or nil.
func (s *Session) Pending() *models.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// History returns the last limit turns, or all of them when limit <= 0.
func (s *Session) History(limit int) []models.ConversationTurn {
	return s.memory.History(limit)
}

// Context returns the variables available to action templates.
func (s *Session) Context() map[string]any {
	return s.memory.Context()
}

// Subscribe registers a listener for this session's events.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// SetAccessToken replaces the bearer token used for platform API calls.
func (s *Session) SetAccessToken(token string) {
	s.client.SetToken(token)
}

// SetNeighbourhood records a neighbourhood chosen by the host application.
func (s *Session) SetNeighbourhood(id string) {
	s.memory.SetNeighbourhood(id)
}

// Reset forgets the conversation and starts over with a fresh welcome.
func (s *Session) Reset() {
	s.mu.Lock()
	s.state = Idle
	s.pending = nil
	s.mu.Unlock()

	s.memory.Reset()
	s.memory.AddToHistory(models.RoleAssistant, s.catalog.WelcomeMessage(), &models.TurnMetadata{
		Suggestions: s.catalog.Suggestions(),
	})
}

// Close flushes the stored context.
func (s *Session) Close() {
	s.memory.Close()
}

// turn collects the assistant messages produced while handling one user
// message.
type turn struct {
	replies []models.ConversationTurn
}

// HandleMessage processes one user message and returns the assistant
// turns it produced. Blank messages are ignored.
func (s *Session) HandleMessage(ctx context.Context, text string) (replies []models.ConversationTurn, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	previous := s.memory.History(llm.HistoryWindow)
	userTurn := s.memory.AddToHistory(models.RoleUser, text, nil)
	s.emit(Event{Type: EventMessage, Turn: &userTurn})

	t := &turn{}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("❌ Turn failed", zap.Any("panic", r))
			s.clearPending()
			s.reply(t, s.catalog.ErrorMessage(), s.catalog.Suggestions())
		}
		replies = t.replies
	}()

	if s.State() == AwaitingConfirmation {
		s.handleConfirmation(ctx, t, text)
		return
	}
	s.handleRequest(ctx, t, text, previous)
	return
}

func (s *Session) handleConfirmation(ctx context.Context, t *turn, text string) {
	pending := s.clearPending()
	if pending == nil {
		s.reply(t, cancelledMessage, s.catalog.Suggestions())
		return
	}

	if !IsAffirmative(text) {
		s.logger.Info("🚫 Action cancelled", zap.String("intent", pending.Intent.Name))
		s.reply(t, cancelledMessage, s.catalog.Suggestions())
		return
	}

	s.execute(ctx, t, pending.Intent, pending.Entities, pending.Query)
}

func (s *Session) handleRequest(ctx context.Context, t *turn, text string, previous []models.ConversationTurn) {
	var (
		intent   *models.Intent
		entities map[string]any
		llmText  string
	)

	if s.gateway != nil {
		result := s.gateway.Interpret(ctx, &llm.TurnRequest{
			Message: text,
			History: previous,
			Intents: s.catalog.Intents(),
			Context: s.memory.Context(),
		})

		switch {
		case result == nil:
		case result.Error:
			s.logger.Warn("⚠️ LLM unavailable, using rule-based matching",
				zap.String("gateway", s.gateway.Name()),
				zap.String("error_type", string(result.ErrorType)))
		default:
			llmText = result.Response
			if result.HasIntent() {
				if found, err := s.catalog.Lookup(result.Intent); err == nil {
					intent = found
					entities = s.completeEntities(text, found, result.Entities)
				}
			}
		}
	}

	if intent == nil {
		intent, entities, _ = s.matcher.Process(text)
	}

	if intent == nil {
		msg := s.catalog.FallbackMessage()
		if llmText != "" {
			msg = llmText
		}
		s.reply(t, msg, s.catalog.Suggestions())
		return
	}

	s.memory.SetLastIntent(intent.Name)
	s.logger.Debug("🎯 Intent recognized", zap.String("intent", intent.Name), zap.Any("entities", entities))

	if v := matcher.Validate(entities, intent); !v.Valid {
		msg := llmText
		if msg == "" {
			msg = fmt.Sprintf("I need more information. Please provide: %s.", strings.Join(v.Missing, ", "))
		}
		s.reply(t, msg, s.catalog.Suggestions())
		return
	}

	if intent.Confirmation {
		s.mu.Lock()
		s.state = AwaitingConfirmation
		s.pending = &models.PendingAction{Intent: intent, Entities: entities, Query: text}
		s.mu.Unlock()

		msg := llmText
		if msg == "" {
			msg = fmt.Sprintf(`Are you sure you want to %s? Type "yes" to confirm or "no" to cancel.`,
				strings.ReplaceAll(intent.Name, "_", " "))
		}
		s.reply(t, msg, []string{"Yes", "No"})
		s.emit(Event{Type: EventConfirmationRequested, Intent: intent.Name})
		return
	}

	s.execute(ctx, t, intent, entities, text)
}

// completeEntities keeps the LLM's entities and fills any required ones it
// left out from the rule-based extractors.
func (s *Session) completeEntities(text string, intent *models.Intent, fromLLM map[string]any) map[string]any {
	entities := make(map[string]any, len(fromLLM))
	for k, v := range fromLLM {
		entities[k] = v
	}
	if matcher.Validate(entities, intent).Valid {
		return entities
	}

	for k, v := range s.matcher.ExtractEntities(text, intent) {
		if current, ok := entities[k]; !ok || current == nil || current == "" {
			entities[k] = v
		}
	}
	return entities
}

func (s *Session) execute(ctx context.Context, t *turn, intent *models.Intent, entities map[string]any, query string) {
	result, err := s.executor.Execute(ctx, intent, entities, query)
	if err != nil {
		msg, suggestions := s.executor.UserMessage(err)
		if suggestions == nil {
			suggestions = s.catalog.Suggestions()
		}
		s.reply(t, msg, suggestions)
		s.emit(Event{Type: EventActionFailed, Intent: intent.Name, Error: err.Error()})
		return
	}

	s.replyWith(t, result.Message, &models.TurnMetadata{
		Data:        result.Data,
		DataType:    result.DataType,
		Suggestions: s.catalog.Suggestions(),
	})
	s.emit(Event{Type: EventActionExecuted, Intent: intent.Name})

	if result.NeighbourhoodID != "" {
		s.emit(Event{Type: EventNeighbourhoodChanged, NeighbourhoodID: result.NeighbourhoodID})
	}
}

// clearPending returns to Idle and hands back the action that was waiting.
func (s *Session) clearPending() *models.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	s.state = Idle
	return pending
}

func (s *Session) reply(t *turn, message string, suggestions []string) {
	s.replyWith(t, message, &models.TurnMetadata{Suggestions: suggestions})
}

func (s *Session) replyWith(t *turn, message string, metadata *models.TurnMetadata) {
	recorded := s.memory.AddToHistory(models.RoleAssistant, message, metadata)
	t.replies = append(t.replies, recorded)
	s.emit(Event{Type: EventMessage, Turn: &recorded})
}

func (s *Session) emit(event Event) {
	event.SessionID = s.id

	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
}
