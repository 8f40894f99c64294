package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// RetryPolicy configures bounded retry with exponential backoff for
// embedding calls. It is an explicit value so tests can exercise it
// against a fake provider independently of any real backend.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first (min 1)
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Cap on the backoff delay
	Jitter      float64       // Fraction of the delay added randomly [0,1]
	Timeout     time.Duration // Per-attempt timeout
}

// DefaultRetryPolicy returns a policy suited to rate-limited cloud APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		Timeout:     2 * time.Minute,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Minute
	}
	return p
}

// backoff returns the delay before the given attempt (attempt >= 1).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

// RetryProvider wraps a Provider with timeout and bounded retry. On
// exhaustion it fails with ErrUnavailable.
type RetryProvider struct {
	inner  Provider
	policy RetryPolicy
}

// WithRetry wraps a provider with the given retry policy.
func WithRetry(inner Provider, policy RetryPolicy) *RetryProvider {
	return &RetryProvider{inner: inner, policy: policy.normalized()}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }

func (r *RetryProvider) Dimension() int { return r.inner.Dimension() }

// Embed retries transient failures with exponential backoff. Retries block
// only the calling goroutine.
func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.policy.backoff(attempt - 1)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		embeddings, err := r.inner.Embed(attemptCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("embed %s: %w", r.inner.Name(), err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v",
		ErrUnavailable, r.inner.Name(), r.policy.MaxAttempts, lastErr)
}

// isRetryable determines whether an error should trigger another attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := err.Error()

	// Rate limiting is the common transient case for embedding APIs.
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests") {
		return true
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, http.StatusText(http.StatusInternalServerError)) ||
		strings.Contains(errStr, http.StatusText(http.StatusBadGateway)) ||
		strings.Contains(errStr, http.StatusText(http.StatusServiceUnavailable)) ||
		strings.Contains(errStr, http.StatusText(http.StatusGatewayTimeout)) {
		return true
	}

	// Remaining client errors (auth, bad request) will not fix themselves.
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "404") {
		return false
	}

	return true
}
