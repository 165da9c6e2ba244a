package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/bot"
	"github.com/mooncakeSG/neighbourbot/internal/config"
	"github.com/mooncakeSG/neighbourbot/internal/handlers"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSTransport answers host chat requests over NATS request/reply and
// publishes session events on <event subject>.<session id>.
type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	config  *config.Config
	handler *handlers.ChatHandler
	logger  *zap.Logger
}

// NewNATSTransport connects to NATS and prepares the chat subscription.
func NewNATSTransport(cfg *config.Config, handler *handlers.ChatHandler, logger *zap.Logger) (*NATSTransport, error) {
	logger = logging.OrNop(logger)

	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(cfg.NatsTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("⚠️ NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("🔄 NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("📡 Connected to NATS server", zap.String("url", cfg.NatsURL))

	return &NATSTransport{
		conn:    conn,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start subscribes to chat requests. Instances sharing a service name form
// a queue group, so each request is answered once.
func (nt *NATSTransport) Start() error {
	sub, err := nt.conn.QueueSubscribe(nt.config.NatsRequestSubject, nt.config.ServiceName, nt.handleChatRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.config.NatsRequestSubject, err)
	}
	nt.sub = sub

	if nt.config.NatsEventSubject != "" {
		nt.handler.Subscribe(nt.publishEvent)
	}

	nt.logger.Info("👂 Subscribed to subject",
		zap.String("subject", nt.config.NatsRequestSubject),
		zap.String("events", nt.config.NatsEventSubject))
	return nil
}

func (nt *NATSTransport) handleChatRequest(msg *nats.Msg) {
	var request models.HostChatRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		nt.logger.Warn("⚠️ Error parsing request", zap.Error(err))
		nt.sendErrorResponse(msg, &request, models.ErrorParseError, "Invalid request format")
		return
	}

	nt.logger.Debug("📨 Processing chat request", zap.String("session_id", request.SessionID))

	ctx, cancel := context.WithTimeout(context.Background(), nt.config.NatsTimeout)
	defer cancel()

	response, err := nt.handler.ProcessChat(ctx, &request)
	if err != nil {
		nt.logger.Error("❌ Error processing chat", zap.Error(err))
		nt.sendErrorResponse(msg, &request, models.ErrorInternal, err.Error())
		return
	}

	if err := nt.sendResponse(msg, response); err != nil {
		nt.logger.Error("❌ Error sending response", zap.Error(err))
	}
}

func (nt *NATSTransport) sendResponse(msg *nats.Msg, response *models.HostChatReply) error {
	responseData, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := msg.Respond(responseData); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	nt.logger.Debug("📤 Response sent",
		zap.String("session_id", response.SessionID),
		zap.Int("messages", len(response.Messages)))
	return nil
}

func (nt *NATSTransport) sendErrorResponse(msg *nats.Msg, request *models.HostChatRequest, errorCode, errorMessage string) {
	response := &models.HostChatReply{
		SessionID: request.SessionID,
		Messages: []models.ConversationTurn{{
			Role:      models.RoleAssistant,
			Message:   "I'm sorry, I encountered an error processing your request. Please try again.",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}

	if err := nt.sendResponse(msg, response); err != nil {
		nt.logger.Error("❌ Failed to send error response", zap.Error(err))
	}
}

func (nt *NATSTransport) publishEvent(event bot.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		nt.logger.Error("❌ Failed to marshal event", zap.Error(err))
		return
	}

	subject := EventSubject(nt.config.NatsEventSubject, event.SessionID)
	if err := nt.conn.Publish(subject, data); err != nil {
		nt.logger.Warn("⚠️ Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// EventSubject returns the subject carrying one session's events. Characters
// with meaning in NATS subjects are replaced in the session id.
func EventSubject(prefix, sessionID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, sessionID)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token
}

// Close drains the subscription and closes the connection.
func (nt *NATSTransport) Close() error {
	if nt.sub != nil {
		if err := nt.sub.Drain(); err != nil {
			nt.logger.Warn("⚠️ Failed to drain subscription", zap.Error(err))
		}
	}
	if nt.conn != nil {
		if err := nt.conn.Flush(); err != nil {
			nt.logger.Warn("⚠️ Failed to flush NATS connection", zap.Error(err))
		}
		nt.conn.Close()
		nt.logger.Info("🔌 NATS connection closed")
	}
	return nil
}
