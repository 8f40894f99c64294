package embedding

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitProvider_UnlimitedPassesThrough(t *testing.T) {
	inner := &fakeProvider{name: "fake"}
	p := WithRateLimit(inner, &RateLimitConfig{})

	for i := 0; i < 5; i++ {
		if _, err := p.Embed(context.Background(), []string{"a"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 5 {
		t.Errorf("expected 5 calls, got %d", inner.calls)
	}
}

func TestRateLimitProvider_BurstAllowed(t *testing.T) {
	inner := &fakeProvider{name: "fake"}
	p := WithRateLimit(inner, &RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// The first 3 calls fit in the burst and must not block noticeably.
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Embed(ctx, []string{"a"}); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("burst calls took too long: %v", elapsed)
	}
}

func TestRateLimitProvider_BlocksWhenExhausted(t *testing.T) {
	inner := &fakeProvider{name: "fake"}
	p := WithRateLimit(inner, &RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	if _, err := p.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, []string{"b"}); err == nil {
		t.Error("expected context deadline while waiting for capacity")
	}
}

func TestRateLimitProvider_NilProvider(t *testing.T) {
	if p := WithRateLimit(nil, nil); p != nil {
		t.Error("expected nil passthrough for nil provider")
	}
}
