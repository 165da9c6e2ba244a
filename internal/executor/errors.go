package executor

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

const (
	msgPlatformDown = "The main platform API server is not running. This API is needed for actions like viewing posts, businesses, and marketplace items. The chatbot AI is working, but data features require the main platform server."
	msgNetwork      = "Unable to connect to the server. Please check your connection and try again."
	msgBadFormat    = "The main platform API server returned an unexpected response. The server may not be running or the endpoint does not exist."
	msgNotFound     = "The requested endpoint was not found. The main platform API may not be running."
	msgUnauthorized = "Authentication failed. Please check your JWT token."
	msgForbidden    = "You do not have permission to access this resource."
	msgServer       = "Server error. Please try again later."
)

var platformDownSuggestions = []string{
	"Try asking a general question",
	"Ask about the platform features",
	"Get help with using the chatbot",
}

// UserMessage explains a failed action to the user. The suggestions are
// nil unless the failure calls for different ones than the catalog's.
func (e *Executor) UserMessage(err error) (string, []string) {
	if err == nil {
		return e.catalog.ErrorMessage(), nil
	}

	var apiErr *APIError
	var urlErr *url.Error
	var opErr *net.OpError

	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return msgPlatformDown, platformDownSuggestions
	case errors.As(err, &urlErr), errors.As(err, &opErr):
		return msgNetwork, nil
	case errors.Is(err, ErrUnexpectedFormat):
		return msgBadFormat, nil
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == 404:
			return msgNotFound, nil
		case apiErr.Status == 401:
			return msgUnauthorized, nil
		case apiErr.Status == 403:
			return msgForbidden, nil
		case apiErr.Status == 500:
			return msgServer, nil
		}
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return e.catalog.ErrorMessage(), nil
	}
	if r := []rune(msg); len(r) > 100 {
		return "Error: " + string(r[:100]) + "...", nil
	}
	return "Error: " + msg, nil
}
