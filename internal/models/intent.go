package models

// Method is the HTTP verb an intent's action is dispatched with.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the supported verbs.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// Action is the platform API call behind an intent.
// Endpoint and body values may contain {{var}} placeholders.
type Action struct {
	Method       Method            `json:"method" yaml:"method"`
	Endpoint     string            `json:"endpoint" yaml:"endpoint"`
	BodyTemplate map[string]string `json:"body_template,omitempty" yaml:"body_template,omitempty"`
}

// Intent is a named user goal mapped to a platform action.
type Intent struct {
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers         []string `json:"triggers" yaml:"triggers"`
	EntitiesRequired []string `json:"entities_required,omitempty" yaml:"entities_required,omitempty"`
	Action           Action   `json:"action" yaml:"action"`
	Confirmation     bool     `json:"confirmation,omitempty" yaml:"confirmation,omitempty"`
}

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnMetadata carries suggestions and API data attached to a turn.
type TurnMetadata struct {
	Suggestions []string `json:"suggestions,omitempty"`
	Data        any      `json:"data,omitempty"`
	DataType    string   `json:"dataType,omitempty"`
}

// ConversationTurn is a single message in a session's history.
type ConversationTurn struct {
	Role      string        `json:"role"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"` // RFC 3339
	Metadata  *TurnMetadata `json:"metadata,omitempty"`
}

// ConversationContext is the persisted state of one chat session.
type ConversationContext struct {
	SessionID       string             `json:"session_id"`
	NeighbourhoodID *string            `json:"neighbourhood_id"`
	LastIntent      *string            `json:"user_intent"`
	History         []ConversationTurn `json:"conversation_history"`
	Preferences     map[string]any     `json:"user_preferences"`
}

// PendingAction is a confirmation-gated intent waiting for a yes/no reply.
type PendingAction struct {
	Intent   *Intent
	Entities map[string]any
	Query    string // user text that produced the intent
}

// GatewayResult is the normalized outcome of an LLM gateway call.
// Either Error is set (with ErrorType/ErrorMessage) or the success fields are.
type GatewayResult struct {
	Intent       string         `json:"intent,omitempty"`
	Entities     map[string]any `json:"entities"`
	Response     string         `json:"response,omitempty"`
	Error        bool           `json:"error,omitempty"`
	ErrorType    ErrorType      `json:"errorType,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// HasIntent reports a successful result naming an intent.
func (r *GatewayResult) HasIntent() bool {
	return r != nil && !r.Error && r.Intent != ""
}

// HasResponse reports a successful result carrying free text.
func (r *GatewayResult) HasResponse() bool {
	return r != nil && !r.Error && r.Response != ""
}

// NewErrorResult builds a failed GatewayResult with the type's user message.
func NewErrorResult(t ErrorType) *GatewayResult {
	return &GatewayResult{
		Entities:     map[string]any{},
		Error:        true,
		ErrorType:    t,
		ErrorMessage: t.UserMessage(),
	}
}

// ErrorType categorizes LLM gateway failures.
type ErrorType string

const (
	ErrAuth                ErrorType = "AUTH_ERROR"
	ErrRateLimit           ErrorType = "RATE_LIMIT"
	ErrServer              ErrorType = "SERVER_ERROR"
	ErrNetwork             ErrorType = "NETWORK_ERROR"
	ErrTimeout             ErrorType = "TIMEOUT"
	ErrQuotaExceeded       ErrorType = "QUOTA_EXCEEDED"
	ErrModelDecommissioned ErrorType = "MODEL_DECOMMISSIONED"
	ErrUnknown             ErrorType = "UNKNOWN"
)

var errorMessages = map[ErrorType]string{
	ErrAuth:                "Invalid LLM API key. Please check your configuration.",
	ErrRateLimit:           "Rate limit exceeded. Please try again in a moment.",
	ErrServer:              "The AI service is temporarily unavailable. Please try again later.",
	ErrNetwork:             "Network error. Please check your internet connection.",
	ErrTimeout:             "Request timed out. The service may be slow. Please try again.",
	ErrQuotaExceeded:       "API quota exceeded. Please check your LLM account limits.",
	ErrModelDecommissioned: "The configured model has been decommissioned. Please configure a supported model.",
	ErrUnknown:             "An error occurred with the AI service. Using fallback responses.",
}

// UserMessage returns the human-readable explanation for t.
func (t ErrorType) UserMessage() string {
	if msg, ok := errorMessages[t]; ok {
		return msg
	}
	return errorMessages[ErrUnknown]
}

// ParseErrorType maps a wire value onto the enum; ok is false for values
// outside it.
func ParseErrorType(s string) (ErrorType, bool) {
	t := ErrorType(s)
	_, ok := errorMessages[t]
	return t, ok
}
