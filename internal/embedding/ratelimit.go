package embedding

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures request and token throttling for embedding
// providers. Token counts are estimated from text length (chars/4) since
// embedding responses carry no usage data.
type RateLimitConfig struct {
	// RequestsPerMinute limits API calls per minute (0 = unlimited).
	RequestsPerMinute int
	// TokensPerMinute limits estimated input tokens per minute (0 = unlimited).
	TokensPerMinute int
	// BurstSize allows a temporary burst above the request rate.
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier
// cloud embedding APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   100000,
		BurstSize:         5,
	}
}

// RateLimitProvider wraps a provider with rate limiting.
type RateLimitProvider struct {
	inner  Provider
	config *RateLimitConfig

	mu            sync.Mutex
	requestTokens int
	tokenBudget   int
	lastRefill    time.Time
	windowStart   time.Time
}

// WithRateLimit wraps a provider with rate limiting. A nil config uses
// defaults; a nil provider passes through.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:         p,
		config:        config,
		requestTokens: burst,
		tokenBudget:   config.TokensPerMinute,
		lastRefill:    time.Now(),
		windowStart:   time.Now(),
	}
}

func (r *RateLimitProvider) Name() string { return r.inner.Name() }

func (r *RateLimitProvider) Dimension() int { return r.inner.Dimension() }

// Embed blocks until the rate limit allows the call, then delegates.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	r.trackTokenUsage(estimateTokens(texts))
	return r.inner.Embed(ctx, texts)
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t) / 4
	}
	return total
}

func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.config.RequestsPerMinute == 0 && r.config.TokensPerMinute == 0 {
			r.mu.Unlock()
			return nil
		}

		hasRequestCapacity := r.config.RequestsPerMinute == 0 || r.requestTokens > 0
		hasTokenCapacity := r.config.TokensPerMinute == 0 || r.tokenBudget > 0

		if hasRequestCapacity && hasTokenCapacity {
			if r.config.RequestsPerMinute > 0 {
				r.requestTokens--
			}
			r.mu.Unlock()
			return nil
		}

		wait := r.waitTime()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimitProvider) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)

	if r.config.RequestsPerMinute > 0 {
		add := int(elapsed.Minutes() * float64(r.config.RequestsPerMinute))
		if add > 0 {
			r.requestTokens += add
			max := r.config.BurstSize
			if max <= 0 {
				max = 1
			}
			if r.requestTokens > max {
				r.requestTokens = max
			}
			r.lastRefill = now
		}
	} else {
		r.lastRefill = now
	}

	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.tokenBudget = r.config.TokensPerMinute
	}
}

func (r *RateLimitProvider) trackTokenUsage(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenBudget -= tokens
	if r.tokenBudget < 0 {
		r.tokenBudget = 0
	}
}

func (r *RateLimitProvider) waitTime() time.Duration {
	if r.config.RequestsPerMinute > 0 && r.requestTokens <= 0 {
		perSecond := float64(r.config.RequestsPerMinute) / 60.0
		return time.Duration(float64(time.Second) / perSecond)
	}
	if r.config.TokensPerMinute > 0 && r.tokenBudget <= 0 {
		if remaining := time.Minute - time.Since(r.windowStart); remaining > 0 {
			return remaining
		}
	}
	return 100 * time.Millisecond
}
