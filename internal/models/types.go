package models

// NATS request from the host application
type HostChatRequest struct {
	SessionID       string `json:"session_id"`
	Message         string `json:"message"`
	AccessToken     string `json:"access_token,omitempty"`
	NeighbourhoodID string `json:"neighbourhood_id,omitempty"`
}

// NATS reply to the host application
type HostChatReply struct {
	SessionID            string             `json:"session_id"`
	Messages             []ConversationTurn `json:"messages"`
	AwaitingConfirmation bool               `json:"awaiting_confirmation"`
	ErrorCode            *string            `json:"error_code,omitempty"`
	ErrorMessage         *string            `json:"error_message,omitempty"`
}

// ChatMessage is one history entry as sent to the LLM proxy.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Proxy /chat request
type ChatRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []ChatMessage  `json:"conversation_history"`
	Intents             []Intent       `json:"intents"`
	Context             map[string]any `json:"context"`
}

// Proxy /chat response
type ChatResponse struct {
	Intent       *string        `json:"intent"`
	Entities     map[string]any `json:"entities"`
	Response     string         `json:"response"`
	Error        bool           `json:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Proxy /format request
type FormatRequest struct {
	Intent    string `json:"intent"`
	APIData   any    `json:"api_data"`
	UserQuery string `json:"user_query"`
}

// FormatResponse is the proxy's /format reply.
type FormatResponse struct {
	Formatted string `json:"formatted"`
}

// HealthResponse is the proxy's health payload.
type HealthResponse struct {
	Status       string `json:"status"`
	LLMAvailable bool   `json:"llm_available"`
	Message      string `json:"message"`
}

// Error codes
const (
	ErrorInvalidRequest = "INVALID_REQUEST"
	ErrorParseError     = "PARSE_ERROR"
	ErrorSessionBusy    = "SESSION_BUSY"
	ErrorInternal       = "INTERNAL_ERROR"
	ErrorUnavailable    = "SERVICE_UNAVAILABLE"
)
