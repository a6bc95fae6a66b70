package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/metrics"
)

// BreakerSettings configures WithBreaker
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[string]
}

// WithBreaker fails fast once the provider has failed FailureThreshold
// consecutive stages. Misconfiguration does not count as a provider failure.
func WithBreaker(p Provider, s BreakerSettings) Provider {
	if s.FailureThreshold == 0 {
		return p
	}

	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.Is(err, apperr.Misconfigured)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Provider circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			metrics.SetBreakerState(name, breakerGauge(to))
		},
	}

	return &breakerProvider{
		next: p,
		cb:   gobreaker.NewCircuitBreaker[string](settings),
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (b *breakerProvider) Name() string {
	return b.next.Name()
}

func (b *breakerProvider) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.Upload(ctx, photo, mimeType)
	})
}

func (b *breakerProvider) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.SubmitJob(ctx, imageURL, prompt)
	})
}

func (b *breakerProvider) PollJob(ctx context.Context, orderID string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.PollJob(ctx, orderID)
	})
}

func (b *breakerProvider) execute(fn func() (string, error)) (string, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", apperr.NewUnavailable(b.next.Name(), err)
	}
	return out, err
}
