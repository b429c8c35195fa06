package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

// FallbackCompleter tries each provider in order and moves on when one
// fails, so a local model outage or a hosted quota does not stop
// classification.
type FallbackCompleter struct {
	chain []Completer
}

func NewFallbackCompleter(chain ...Completer) *FallbackCompleter {
	return &FallbackCompleter{chain: chain}
}

func (f *FallbackCompleter) Name() string {
	names := make([]string, 0, len(f.chain))
	for _, c := range f.chain {
		names = append(names, c.Name())
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

func (f *FallbackCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	var lastErr error
	for i, c := range f.chain {
		out, err := c.Complete(ctx, p)
		if err == nil {
			if i > 0 {
				logger.Logger.Info().Str("provider", c.Name()).Msg("[AI] Fallback provider succeeded")
			}
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}

		ev := logger.Logger.Warn().Err(err).Str("provider", c.Name())
		switch {
		case isQuotaError(err):
			ev.Msg("[AI] Provider quota exhausted, trying next")
		case isConnectionError(err):
			ev.Msg("[AI] Provider connection failed, trying next")
		default:
			ev.Msg("[AI] Provider error, trying next")
		}
	}
	if lastErr == nil {
		return "", fmt.Errorf("no AI provider available")
	}
	return "", fmt.Errorf("all AI providers failed: %w", lastErr)
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return containsAny(err.Error(),
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"EOF",
	)
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"RESOURCE_EXHAUSTED",
	)
}

func containsAny(s string, indicators ...string) bool {
	s = strings.ToLower(s)
	for _, indicator := range indicators {
		if strings.Contains(s, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}
