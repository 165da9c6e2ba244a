package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/sony/gobreaker"
)

// ClassifyError maps a gateway failure onto an ErrorType.
func ClassifyError(err error) models.ErrorType {
	if err == nil {
		return models.ErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.ErrServer
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrTimeout
	}

	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return models.ErrNetwork
	}

	return ClassifyText(err.Error())
}

// ClassifyText categorizes an error message. Checks run in order, so a
// message mentioning both "429" and "quota" is a rate limit.
func ClassifyText(message string) models.ErrorType {
	msg := strings.ToLower(message)

	switch {
	case containsAny(msg, "decommissioned", "no longer supported", "model_decommissioned"):
		return models.ErrModelDecommissioned
	case containsAny(msg, "401", "unauthorized", "invalid api key"):
		return models.ErrAuth
	case containsAny(msg, "429", "rate limit"):
		return models.ErrRateLimit
	case containsAny(msg, "500", "internal"):
		return models.ErrServer
	case containsAny(msg, "network", "fetch", "connection refused", "no such host"):
		return models.ErrNetwork
	case containsAny(msg, "timeout", "timed out"):
		return models.ErrTimeout
	case containsAny(msg, "quota", "exceeded"):
		return models.ErrQuotaExceeded
	}
	return models.ErrUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
