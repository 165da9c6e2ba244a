package bot

import "github.com/mooncakeSG/neighbourbot/internal/models"

// EventType names what happened in a session.
type EventType string

const (
	EventMessage               EventType = "message"
	EventConfirmationRequested EventType = "confirmation_requested"
	EventActionExecuted        EventType = "action_executed"
	EventActionFailed          EventType = "action_failed"
	EventNeighbourhoodChanged  EventType = "neighbourhood_changed"
)

// Event tells the host application what happened during a turn.
type Event struct {
	Type            EventType                `json:"type"`
	SessionID       string                   `json:"session_id"`
	Turn            *models.ConversationTurn `json:"turn,omitempty"`
	Intent          string                   `json:"intent,omitempty"`
	NeighbourhoodID string                   `json:"neighbourhood_id,omitempty"`
	Error           string                   `json:"error,omitempty"`
}

// Listener receives session events synchronously, on the goroutine running
// the turn. It must not call back into the session's HandleMessage.
type Listener func(Event)
