// Package executor turns a recognized intent into a platform API call and a
// chat-ready summary of its result.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/catalog"
	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/memory"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"go.uber.org/zap"
)

// Formatter rewrites API data as prose. An empty result keeps the default
// summary.
type Formatter interface {
	FormatAPIResponse(ctx context.Context, intent string, apiData any, userQuery string) string
}

// Result is the outcome of one executed action.
type Result struct {
	Data     any
	Message  string
	DataType string

	// NeighbourhoodID is set when the action changed the user's
	// neighbourhood; the host application should be told.
	NeighbourhoodID string
}

// Executor turns a recognized intent into a platform API call.
type Executor struct {
	client    *APIClient
	memory    *memory.Manager
	catalog   *catalog.Catalog
	formatter Formatter
	logger    *zap.Logger
}

// New creates an executor. formatter may be nil.
func New(client *APIClient, mem *memory.Manager, cat *catalog.Catalog, formatter Formatter, logger *zap.Logger) *Executor {
	return &Executor{
		client:    client,
		memory:    mem,
		catalog:   cat,
		formatter: formatter,
		logger:    logging.OrNop(logger),
	}
}

// Execute renders the intent's action from the conversation context and
// entities, calls the platform API and summarizes the answer. query is the
// user text that produced the intent and is handed to the formatter.
func (e *Executor) Execute(ctx context.Context, intent *models.Intent, entities map[string]any, query string) (*Result, error) {
	vars := e.memory.Context()
	for k, v := range entities {
		vars[k] = v
	}

	action := intent.Action
	endpoint := RenderEndpoint(action.Endpoint, vars)

	var body map[string]any
	if action.Method == models.MethodPost || action.Method == models.MethodPatch {
		body = RenderBody(action.BodyTemplate, vars)
	}

	e.logger.Info("⚡ Executing action",
		zap.String("intent", intent.Name),
		zap.String("method", string(action.Method)),
		zap.String("endpoint", endpoint))

	data, err := e.client.Do(ctx, action.Method, endpoint, body)
	if err != nil {
		e.logger.Warn("⚠️ Action failed", zap.String("intent", intent.Name), zap.Error(err))
		return nil, err
	}

	result := &Result{
		Data:     data,
		Message:  e.summary(intent.Name, data),
		DataType: DataType(intent.Name),
	}

	if e.formatter != nil {
		if formatted := e.formatter.FormatAPIResponse(ctx, intent.Name, data, query); formatted != "" {
			result.Message = formatted
		}
	}

	if intent.Name == "update_neighbourhood" {
		if m, ok := data.(map[string]any); ok {
			if id, ok := m["neighbourhood_id"].(string); ok && id != "" {
				e.memory.SetNeighbourhood(id)
				result.NeighbourhoodID = id
			}
		}
	}

	return result, nil
}

// summary is the default message for an intent's result, used when no
// LLM formatting is available.
func (e *Executor) summary(intentName string, data any) string {
	n := listLen(data)

	switch intentName {
	case "get_recent_posts":
		if n > 0 {
			return "Here are the recent posts in your neighbourhood:"
		}
		return "No recent posts found in your neighbourhood."
	case "get_alerts":
		if n > 0 {
			return "Here are the current alerts:"
		}
		return "No alerts at the moment."
	case "create_post":
		return "Successfully posted!"
	case "create_alert":
		return "Successfully created alert!"
	case "comment_on_post":
		return "Comment added successfully!"
	case "search_marketplace":
		if n > 0 {
			return fmt.Sprintf("Found %d item(s) in marketplace:", n)
		}
		return "No items found matching your search."
	case "create_market_item":
		return "Item listed successfully!"
	case "search_businesses":
		if n > 0 {
			return fmt.Sprintf("Found %d business(es):", n)
		}
		return "No businesses found."
	case "get_notifications":
		if n > 0 {
			return fmt.Sprintf("You have %d notification(s):", n)
		}
		return "No notifications at the moment."
	}
	return e.catalog.SuccessMessage("Action completed successfully!")
}

// listLen returns the length of a JSON array, or -1 for anything else.
func listLen(data any) int {
	if list, ok := data.([]any); ok {
		return len(list)
	}
	return -1
}

// DataType tags result data so a client can pick a renderer.
func DataType(intentName string) string {
	switch {
	case strings.Contains(intentName, "post"):
		return "posts"
	case strings.Contains(intentName, "market"):
		return "marketplace"
	case strings.Contains(intentName, "business"):
		return "businesses"
	}
	return ""
}
