package providers

import (
	"context"
	"time"

	"github.com/looks-salon/looks/internal/metrics"
)

type instrumented struct {
	next Provider
}

// Instrument records per-stage Prometheus metrics around p
func Instrument(p Provider) Provider {
	return &instrumented{next: p}
}

func (i *instrumented) Name() string {
	return i.next.Name()
}

func (i *instrumented) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	start := time.Now()
	url, err := i.next.Upload(ctx, photo, mimeType)
	metrics.RecordProviderStage(i.next.Name(), "upload", err, time.Since(start))
	return url, err
}

func (i *instrumented) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	start := time.Now()
	orderID, err := i.next.SubmitJob(ctx, imageURL, prompt)
	metrics.RecordProviderStage(i.next.Name(), "submit", err, time.Since(start))
	return orderID, err
}

func (i *instrumented) PollJob(ctx context.Context, orderID string) (string, error) {
	start := time.Now()
	output, err := i.next.PollJob(ctx, orderID)
	metrics.RecordProviderStage(i.next.Name(), "poll", err, time.Since(start))
	return output, err
}
