package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/metrics"
)

// Provider is a remote image-editing service driven through upload, submit
// and poll
type Provider interface {
	// Name is the configured provider tag, recorded in the audit log
	Name() string
	// Upload makes the photo reachable by the provider and returns its URL
	Upload(ctx context.Context, photo []byte, mimeType string) (string, error)
	// SubmitJob starts a hairstyle job and returns its order id
	SubmitJob(ctx context.Context, imageURL, prompt string) (string, error)
	// PollJob waits for the job and returns the output image URL
	PollJob(ctx context.Context, orderID string) (string, error)
}

// Job statuses reported by the backends
const (
	StatusActive = "active"
	StatusFailed = "failed"
)

// PollOptions bounds the status loop
type PollOptions struct {
	Interval time.Duration
	Attempts int
}

// DefaultPollOptions waits 3s before each of 5 checks
func DefaultPollOptions() PollOptions {
	return PollOptions{Interval: 3 * time.Second, Attempts: 5}
}

// JobState is one status check result
type JobState struct {
	Status string
	Output string
}

// CheckFunc performs a single status check
type CheckFunc func(ctx context.Context) (JobState, error)

// Poll runs check up to opts.Attempts times, sleeping opts.Interval before
// each. An active state with an output ends the loop, a failed state stops it
// early, and everything else (transport errors included) moves on to the next
// attempt.
func Poll(ctx context.Context, provider string, opts PollOptions, check CheckFunc) (string, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, opts.Interval); err != nil {
			return "", apperr.NewNotReady("polling interrupted: " + err.Error())
		}

		state, err := check(ctx)
		if err != nil {
			metrics.RecordPollCheck(provider, "error")
			slog.Debug("Job status check failed", "provider", provider, "attempt", attempt, "err", err)
			continue
		}
		metrics.RecordPollCheck(provider, state.Status)

		switch state.Status {
		case StatusActive:
			if state.Output != "" {
				return state.Output, nil
			}
		case StatusFailed:
			return "", apperr.NewNotReady("provider reported the job as failed")
		}
	}

	return "", apperr.NewNotReady("hairstyle output not ready")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
