package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newCircuitBreaker(circuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxSuccesses: 1})

	failing := func() ([]float32, error) { return nil, errors.New("backend down") }

	for i := 0; i < 2; i++ {
		if _, err := cb.execute(context.Background(), failing); err == nil {
			t.Fatal("expected the failing call to return an error")
		}
	}

	if cb.state() != "open" {
		t.Fatalf("expected breaker to be open after consecutive failures, got %q", cb.state())
	}

	_, err := cb.execute(context.Background(), func() ([]float32, error) {
		t.Fatal("backend should not be called while the breaker is open")
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := newCircuitBreaker(defaultCircuitBreakerConfig())

	vec, err := cb.execute(context.Background(), func() ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected the vector to pass through unchanged, got %v", vec)
	}
	if cb.state() != "closed" {
		t.Fatalf("expected breaker to remain closed, got %q", cb.state())
	}
}

func TestCachedProvider_CachesByContent(t *testing.T) {
	calls := 0
	backend := &countingProvider{embed: func(text string) []float32 {
		calls++
		return []float32{1, 2}
	}}

	cp, err := NewCachedProvider(backend, 10)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cp.Embed(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := cp.Embed(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected the backend to be called once for repeated identical text, got %d calls", calls)
	}

	if _, err := cp.Embed(context.Background(), "different"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected a cache miss for new text, got %d calls", calls)
	}
}

type countingProvider struct {
	embed func(text string) []float32
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(text), nil
}
func (c *countingProvider) Dimension() int { return 2 }

var _ Provider = (*countingProvider)(nil)
