package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"go.uber.org/zap"
)

// MaxHistory is the number of turns a context keeps; older turns are evicted.
const MaxHistory = 50

const saveTimeout = 5 * time.Second

// Manager owns the conversation context of one session and mirrors every
// change to a Store in the background.
type Manager struct {
	mu              sync.RWMutex
	sessionID       string
	neighbourhoodID *string
	lastIntent      *string
	history         []models.ConversationTurn
	preferences     map[string]any

	store  Store
	logger *zap.Logger
	now    func() time.Time

	// Background writer. pending holds at most one snapshot: a newer
	// snapshot replaces one the writer has not picked up yet.
	saveMu  sync.Mutex
	pending chan []byte
	done    chan struct{}
	closed  bool
}

// NewManager creates a manager for sessionID backed by store.
// A nil store keeps the context in memory only.
func NewManager(sessionID string, store Store, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}

	m := &Manager{
		sessionID:   sessionID,
		preferences: make(map[string]any),
		store:       store,
		logger:      logging.OrNop(logger).With(zap.String("session_id", sessionID)),
		now:         time.Now,
		pending:     make(chan []byte, 1),
		done:        make(chan struct{}),
	}
	go m.writer()
	return m
}

// SessionID returns the id the context is stored under.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// SetNeighbourhood sets the active neighbourhood; an empty id clears it.
func (m *Manager) SetNeighbourhood(id string) {
	m.mu.Lock()
	if id == "" {
		m.neighbourhoodID = nil
	} else {
		m.neighbourhoodID = &id
	}
	m.mu.Unlock()
	m.scheduleSave()
}

// Neighbourhood returns the active neighbourhood id, or "" when none is set.
func (m *Manager) Neighbourhood() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.neighbourhoodID == nil {
		return ""
	}
	return *m.neighbourhoodID
}

// SetLastIntent records the most recently recognized intent.
func (m *Manager) SetLastIntent(name string) {
	m.mu.Lock()
	if name == "" {
		m.lastIntent = nil
	} else {
		m.lastIntent = &name
	}
	m.mu.Unlock()
	m.scheduleSave()
}

// LastIntent returns the most recently recognized intent, or "".
func (m *Manager) LastIntent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastIntent == nil {
		return ""
	}
	return *m.lastIntent
}

// SetPreference stores a user preference.
func (m *Manager) SetPreference(key string, value any) {
	m.mu.Lock()
	m.preferences[key] = value
	m.mu.Unlock()
	m.scheduleSave()
}

// AddToHistory appends a turn stamped with the current time and evicts the
// oldest turns beyond MaxHistory.
func (m *Manager) AddToHistory(role, message string, metadata *models.TurnMetadata) models.ConversationTurn {
	turn := models.ConversationTurn{
		Role:      role,
		Message:   message,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.history = append(m.history, turn)
	if over := len(m.history) - MaxHistory; over > 0 {
		m.history = append([]models.ConversationTurn(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	m.scheduleSave()
	return turn
}

// History returns the most recent limit turns, oldest first.
// limit <= 0 returns everything.
func (m *Manager) History(limit int) []models.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(m.history) {
		start = len(m.history) - limit
	}
	out := make([]models.ConversationTurn, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

// ClearHistory drops every turn and keeps the rest of the context.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
	m.scheduleSave()
}

// Reset returns the context to its initial state and removes the stored copy.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.neighbourhoodID = nil
	m.lastIntent = nil
	m.history = nil
	m.preferences = make(map[string]any)
	m.mu.Unlock()

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if !m.closed {
		m.enqueue(nil)
	}
}

// Context returns the flat map sent to the LLM gateway. neighbourhood_id and
// session_id are always present; preferences fill in the remaining keys.
func (m *Manager) Context() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.preferences)+2)
	for k, v := range m.preferences {
		out[k] = v
	}

	var neighbourhood any
	if m.neighbourhoodID != nil {
		neighbourhood = *m.neighbourhoodID
	}
	out["neighbourhood_id"] = neighbourhood
	out["session_id"] = m.sessionID
	return out
}

// ChatMessages returns the last limit turns as langchaingo chat messages.
func (m *Manager) ChatMessages(ctx context.Context, limit int) ([]llms.ChatMessage, error) {
	return ToChatMessages(ctx, m.History(limit))
}

// ToChatMessages loads turns into a langchaingo conversation buffer and
// returns its messages. Turns with an unknown role are skipped.
func ToChatMessages(ctx context.Context, turns []models.ConversationTurn) ([]llms.ChatMessage, error) {
	buf := memory.NewConversationBuffer()

	for _, turn := range turns {
		var err error
		switch turn.Role {
		case models.RoleUser:
			err = buf.ChatHistory.AddUserMessage(ctx, turn.Message)
		case models.RoleAssistant:
			err = buf.ChatHistory.AddAIMessage(ctx, turn.Message)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to add message to memory: %w", err)
		}
	}

	return buf.ChatHistory.Messages(ctx)
}

// Snapshot returns a copy of the persisted form of the context.
func (m *Manager) Snapshot() models.ConversationContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() models.ConversationContext {
	history := make([]models.ConversationTurn, len(m.history))
	copy(history, m.history)

	prefs := make(map[string]any, len(m.preferences))
	for k, v := range m.preferences {
		prefs[k] = v
	}

	return models.ConversationContext{
		SessionID:       m.sessionID,
		NeighbourhoodID: cloneString(m.neighbourhoodID),
		LastIntent:      cloneString(m.lastIntent),
		History:         history,
		Preferences:     prefs,
	}
}

// LoadFromStorage replaces the in-memory context with the stored one.
// Missing or unreadable data leaves an empty context and is not an error;
// only a failing store is reported.
func (m *Manager) LoadFromStorage(ctx context.Context) error {
	data, err := m.store.Load(ctx, StorageKey(m.sessionID))
	if errors.Is(err, ErrNotFound) {
		m.logger.Debug("📭 No stored context")
		return nil
	}
	if err != nil {
		return err
	}

	var stored models.ConversationContext
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.Warn("⚠️ Ignoring corrupt stored context", zap.Error(err))
		return nil
	}

	if over := len(stored.History) - MaxHistory; over > 0 {
		stored.History = stored.History[over:]
	}
	if stored.Preferences == nil {
		stored.Preferences = make(map[string]any)
	}

	m.mu.Lock()
	m.neighbourhoodID = stored.NeighbourhoodID
	m.lastIntent = stored.LastIntent
	m.history = stored.History
	m.preferences = stored.Preferences
	m.mu.Unlock()

	m.logger.Debug("📚 Loaded stored context", zap.Int("turns", len(stored.History)))
	return nil
}

// SaveToStorage writes the current context synchronously.
func (m *Manager) SaveToStorage(ctx context.Context) error {
	data, err := m.encode()
	if err != nil {
		return err
	}
	return m.store.Save(ctx, StorageKey(m.sessionID), data)
}

func (m *Manager) encode() ([]byte, error) {
	m.mu.RLock()
	snap := m.snapshotLocked()
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	return data, nil
}

// scheduleSave hands the latest snapshot to the writer without blocking on
// the store.
func (m *Manager) scheduleSave() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.closed {
		return
	}

	data, err := m.encode()
	if err != nil {
		m.logger.Error("❌ Failed to encode context", zap.Error(err))
		return
	}

	m.enqueue(data)
}

// enqueue replaces any snapshot the writer has not taken yet. A nil
// snapshot deletes the stored context. Callers hold saveMu.
func (m *Manager) enqueue(data []byte) {
	select {
	case <-m.pending:
	default:
	}
	m.pending <- data
}

func (m *Manager) writer() {
	defer close(m.done)

	key := StorageKey(m.sessionID)
	for data := range m.pending {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		var err error
		if data == nil {
			err = m.store.Delete(ctx, key)
		} else {
			err = m.store.Save(ctx, key, data)
		}
		if err != nil {
			m.logger.Warn("⚠️ Failed to persist context", zap.Error(err))
		}
		cancel()
	}
}

// Close flushes any pending save and stops the writer. The store itself is
// not closed; it is usually shared between sessions.
func (m *Manager) Close() {
	m.saveMu.Lock()
	if m.closed {
		m.saveMu.Unlock()
		return
	}
	m.closed = true
	close(m.pending)
	m.saveMu.Unlock()

	<-m.done
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
