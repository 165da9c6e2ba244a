package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/bot"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"go.uber.org/zap"
)

const errorReplyMessage = "I'm sorry, I encountered an error processing your request. Please try again."

type entry struct {
	session  *bot.Session
	lastUsed time.Time
}

// ChatHandler serves chat turns for many users, keeping one bot session
// per session id.
type ChatHandler struct {
	defaults bot.Options
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]*entry
	listeners []bot.Listener
}

// NewChatHandler creates a handler whose sessions are built from defaults.
// SessionID, AccessToken and NeighbourhoodID come from each request.
func NewChatHandler(defaults bot.Options) *ChatHandler {
	return &ChatHandler{
		defaults: defaults,
		logger:   logging.OrNop(defaults.Logger),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Subscribe registers a listener on every session, current and future.
func (h *ChatHandler) Subscribe(l bot.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
	for _, e := range h.sessions {
		e.session.Subscribe(l)
	}
}

// ProcessChat runs one host chat request through its session.
func (h *ChatHandler) ProcessChat(ctx context.Context, request *models.HostChatRequest) (*models.HostChatReply, error) {
	if err := h.validateRequest(request); err != nil {
		return h.createErrorResponse(request, models.ErrorInvalidRequest, err.Error()), nil
	}

	session, err := h.session(ctx, request)
	if err != nil {
		h.logger.Error("❌ Failed to start session", zap.String("session_id", request.SessionID), zap.Error(err))
		return h.createErrorResponse(request, models.ErrorInternal, err.Error()), nil
	}

	if request.AccessToken != "" {
		session.SetAccessToken(request.AccessToken)
	}
	if request.NeighbourhoodID != "" && session.Context()["neighbourhood_id"] != request.NeighbourhoodID {
		session.SetNeighbourhood(request.NeighbourhoodID)
	}

	replies, err := session.HandleMessage(ctx, request.Message)
	if errors.Is(err, bot.ErrBusy) {
		return h.createErrorResponse(request, models.ErrorSessionBusy, err.Error()), nil
	}
	if err != nil {
		return h.createErrorResponse(request, models.ErrorInternal, err.Error()), nil
	}
	if replies == nil {
		replies = []models.ConversationTurn{}
	}

	h.logger.Info("✅ Turn processed",
		zap.String("session_id", request.SessionID),
		zap.Int("replies", len(replies)),
		zap.Stringer("state", session.State()))

	return &models.HostChatReply{
		SessionID:            request.SessionID,
		Messages:             replies,
		AwaitingConfirmation: session.State() == bot.AwaitingConfirmation,
	}, nil
}

func (h *ChatHandler) validateRequest(request *models.HostChatRequest) error {
	if request == nil {
		return fmt.Errorf("request is required")
	}
	if request.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(request.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// session returns the live session for the request, creating it (and
// restoring its stored context) on first contact.
func (h *ChatHandler) session(ctx context.Context, request *models.HostChatRequest) (*bot.Session, error) {
	h.mu.Lock()
	if e, ok := h.sessions[request.SessionID]; ok {
		e.lastUsed = h.now()
		h.mu.Unlock()
		return e.session, nil
	}
	h.mu.Unlock()

	opts := h.defaults
	opts.SessionID = request.SessionID
	if request.AccessToken != "" {
		opts.AccessToken = request.AccessToken
	}
	if request.NeighbourhoodID != "" {
		opts.NeighbourhoodID = request.NeighbourhoodID
	}

	created, err := bot.NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Another request for the same id may have won the race.
	if e, ok := h.sessions[request.SessionID]; ok {
		e.lastUsed = h.now()
		created.Close()
		return e.session, nil
	}

	for _, l := range h.listeners {
		created.Subscribe(l)
	}
	h.sessions[request.SessionID] = &entry{session: created, lastUsed: h.now()}
	h.logger.Info("🆕 Session created", zap.String("session_id", request.SessionID))
	return created, nil
}

// ActiveSessions returns the number of sessions held in memory.
func (h *ChatHandler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Evict closes sessions unused for longer than maxIdle. Their context stays
// in the store and is restored on the next message.
func (h *ChatHandler) Evict(maxIdle time.Duration) int {
	cutoff := h.now().Add(-maxIdle)

	h.mu.Lock()
	var idle []*bot.Session
	for id, e := range h.sessions {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.session)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		h.logger.Info("🧹 Evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Close flushes and drops every session.
func (h *ChatHandler) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*entry)
	h.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}

func (h *ChatHandler) createErrorResponse(request *models.HostChatRequest, errorCode, errorMessage string) *models.HostChatReply {
	reply := &models.HostChatReply{
		Messages: []models.ConversationTurn{{
			Role:      models.RoleAssistant,
			Message:   errorReplyMessage,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		}},
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
	if request != nil {
		reply.SessionID = request.SessionID
	}
	return reply
}
