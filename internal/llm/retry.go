package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// RetryConfig configures retry behavior for unary LLM calls.
type RetryConfig struct {
	MaxRetries    int           // maximum number of retry attempts
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration // cap on the backoff delay
	BackoffFactor float64       // exponential backoff multiplier
}

// DefaultRetryConfig returns the engine's retry policy. The per-call
// deadline is owned by the caller's context; retries fit inside it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// generateWithRetry calls the model, retrying transient failures with
// exponential backoff until the context expires.
func generateWithRetry(ctx context.Context, model llms.Model, messages []llms.MessageContent, cfg RetryConfig, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		response, err := model.GenerateContent(ctx, messages, options...)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || !isRetryableError(err) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("LLM call failed, retrying")

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return nil, lastErr
}

// isRetryableError determines if an upstream error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	// Network-level failures.
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}

	// Retryable HTTP statuses.
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "429") {
		return true
	}

	// Provider throttling and overload phrasing.
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "service unavailable") {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRetryableError(urlErr.Err)
	}
	return false
}
