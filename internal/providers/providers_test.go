package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looks-salon/looks/internal/apperr"
)

func fastPoll() PollOptions {
	return PollOptions{Interval: time.Millisecond, Attempts: 5}
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name       string
		states     []JobState
		errs       []error
		wantOutput string
		wantChecks int
		wantErr    bool
	}{
		{
			name:       "active with output on first check",
			states:     []JobState{{Status: "active", Output: "https://cdn/out.jpg"}},
			wantOutput: "https://cdn/out.jpg",
			wantChecks: 1,
		},
		{
			name: "init then active",
			states: []JobState{
				{Status: "init"},
				{Status: "init"},
				{Status: "active", Output: "https://cdn/out.jpg"},
			},
			wantOutput: "https://cdn/out.jpg",
			wantChecks: 3,
		},
		{
			name:       "failed stops immediately",
			states:     []JobState{{Status: "failed"}},
			wantChecks: 1,
			wantErr:    true,
		},
		{
			name:       "active without output keeps polling",
			states:     []JobState{{Status: "active"}, {Status: "active"}, {Status: "active"}, {Status: "active"}, {Status: "active"}},
			wantChecks: 5,
			wantErr:    true,
		},
		{
			name:       "transport errors are retried",
			errs:       []error{errors.New("boom"), errors.New("boom")},
			states:     []JobState{{}, {}, {Status: "active", Output: "https://cdn/out.jpg"}},
			wantOutput: "https://cdn/out.jpg",
			wantChecks: 3,
		},
		{
			name:       "never ready exhausts attempts",
			wantChecks: 5,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks := 0
			output, err := Poll(context.Background(), "test", fastPoll(), func(ctx context.Context) (JobState, error) {
				i := checks
				checks++
				if i < len(tt.errs) && tt.errs[i] != nil {
					return JobState{}, tt.errs[i]
				}
				if i < len(tt.states) {
					return tt.states[i], nil
				}
				return JobState{Status: "init"}, nil
			})

			assert.Equal(t, tt.wantChecks, checks)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.NotReady))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, output)
		})
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checks := 0
	_, err := Poll(ctx, "test", PollOptions{Interval: time.Hour, Attempts: 5}, func(ctx context.Context) (JobState, error) {
		checks++
		return JobState{}, nil
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotReady))
	assert.Zero(t, checks)
}

type stubProvider struct {
	uploadErr error
	calls     int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	s.calls++
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return "https://remote/photo.jpg", nil
}

func (s *stubProvider) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	s.calls++
	return "order-1", nil
}

func (s *stubProvider) PollJob(ctx context.Context, orderID string) (string, error) {
	s.calls++
	return "https://remote/out.jpg", nil
}

func TestWithBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubProvider{uploadErr: apperr.NewUploadFailed("boom", nil)}
	p := WithBreaker(stub, BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute})

	for range 2 {
		_, err := p.Upload(context.Background(), []byte("x"), "image/jpeg")
		assert.True(t, apperr.Is(err, apperr.UploadFailed))
	}

	_, err := p.Upload(context.Background(), []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unavailable))
	assert.Equal(t, 2, stub.calls, "open breaker must not reach the provider")
	assert.True(t, apperr.From(err).Upstream())
}

func TestWithBreakerIgnoresMisconfiguration(t *testing.T) {
	stub := &stubProvider{uploadErr: apperr.NewMisconfigured("key missing")}
	p := WithBreaker(stub, BreakerSettings{FailureThreshold: 1, OpenTimeout: time.Minute})

	for range 3 {
		_, err := p.Upload(context.Background(), []byte("x"), "image/jpeg")
		assert.True(t, apperr.Is(err, apperr.Misconfigured))
	}
	assert.Equal(t, 3, stub.calls)
}

func TestWithBreakerDisabled(t *testing.T) {
	stub := &stubProvider{}
	assert.Same(t, Provider(stub), WithBreaker(stub, BreakerSettings{}))
}

func TestInstrumentPassesThrough(t *testing.T) {
	p := Instrument(&stubProvider{})
	assert.Equal(t, "stub", p.Name())

	url, err := p.Upload(context.Background(), []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://remote/photo.jpg", url)

	orderID, err := p.SubmitJob(context.Background(), url, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)

	output, err := p.PollJob(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://remote/out.jpg", output)
}
