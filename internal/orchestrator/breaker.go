package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Bad input and caller cancellation say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || provider.IsTerminal(err) || errors.Is(err, context.Canceled)
		},
	})
}

// breakerError maps a rejection by an open breaker to unavailability.
func breakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.NewError(provider.KindUnavailable, name, err)
	}
	return err
}
