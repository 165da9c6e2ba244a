package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mooncakeSG/neighbourbot/internal/logging"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrBackendUnavailable means the platform API answered with an HTML
	// page, which happens when the API server is not running behind the
	// host's web server.
	ErrBackendUnavailable = errors.New("backend API is not available")

	// ErrUnexpectedFormat means the platform API answered with something
	// other than JSON.
	ErrUnexpectedFormat = errors.New("unexpected response format")
)

// APIError is a non-2xx answer from the platform API.
type APIError struct {
	Status  int
	Message string
}

// Error returns the message reported by the platform API.
func (e *APIError) Error() string {
	return e.Message
}

// APIClient calls the platform REST API with the user's bearer token.
type APIClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a client for the platform API at baseURL.
func NewAPIClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger),
		token:   token,
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current access token.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do sends one request and returns the decoded JSON payload. A top-level
// {"data": ...} envelope is unwrapped.
func (c *APIClient) Do(ctx context.Context, method models.Method, endpoint string, body any) (any, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	var reader io.Reader
	if body != nil && (method == models.MethodPost || method == models.MethodPatch) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("🌐 Platform API request", zap.String("method", string(method)), zap.String("endpoint", endpoint))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(payload, resp.StatusCode)}
	}

	if m, ok := payload.(map[string]any); ok && m["data"] != nil {
		return m["data"], nil
	}
	return payload, nil
}

func decodeBody(resp *http.Response) (any, error) {
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if len(bytes.TrimSpace(text)) == 0 {
			return nil, nil
		}
		var payload any
		if err := json.Unmarshal(text, &payload); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON response: %s", ErrUnexpectedFormat, truncate(string(text), 100))
		}
		return payload, nil
	}

	body := string(text)
	if strings.Contains(body, "<!DOCTYPE html>") || strings.Contains(body, "<html") {
		return nil, ErrBackendUnavailable
	}

	// An empty success body (204 and friends) carries nothing to decode.
	if len(bytes.TrimSpace(text)) == 0 && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil, nil
	}

	if contentType == "" {
		contentType = "unknown format"
	}
	return nil, fmt.Errorf("%w: expected JSON but received %s", ErrUnexpectedFormat, contentType)
}

func errorMessage(payload any, status int) string {
	if m, ok := payload.(map[string]any); ok {
		for _, key := range []string{"detail", "message"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("Request failed with status %d", status)
}

// Healthy reports whether the platform API is reachable. Any JSON answer
// counts, even an error status; an HTML page means the API is not running.
func (c *APIClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to platform API: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		return nil
	case strings.Contains(contentType, "text/html"):
		return ErrBackendUnavailable
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	}
	return &APIError{Status: resp.StatusCode, Message: "API returned an error"}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
