package embedding

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// calls to the embedding backend to avoid piling requests onto a server
// that has already failed repeatedly.
var ErrCircuitOpen = errors.New("embedding: circuit breaker is open")

// circuitBreakerConfig mirrors the reference three-state breaker: trip after
// MaxFailures consecutive failures, stay open for Timeout, then require
// HalfOpenMaxSuccesses consecutive successes to close again.
type circuitBreakerConfig struct {
	MaxFailures          uint32
	Timeout              time.Duration
	HalfOpenMaxSuccesses uint32
}

func defaultCircuitBreakerConfig() circuitBreakerConfig {
	return circuitBreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// circuitBreaker wraps gobreaker to protect the HTTP embedding backend from
// cascading failure.
type circuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	total   uint64
	failed  uint64
}

func newCircuitBreaker(cfg circuitBreakerConfig) *circuitBreaker {
	cb := &circuitBreaker{}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})
	return cb
}

func (cb *circuitBreaker) execute(ctx context.Context, fn func() ([]float32, error)) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	cb.mu.Lock()
	cb.total++
	if err != nil {
		cb.failed++
	}
	cb.mu.Unlock()

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (cb *circuitBreaker) state() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
