package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockProvider implements providers.Provider for testing
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	return "providerA"
}

func (m *MockProvider) Upload(ctx context.Context, photo []byte, mimeType string) (string, error) {
	args := m.Called(ctx, photo, mimeType)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) SubmitJob(ctx context.Context, imageURL, prompt string) (string, error) {
	args := m.Called(ctx, imageURL, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) PollJob(ctx context.Context, orderID string) (string, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Error(1)
}

type presetMap map[string]models.Preset

func (p presetMap) Get(id string) (models.Preset, bool) {
	preset, ok := p[id]
	return preset, ok
}

type promptMap map[string]string

func (p promptMap) Lookup(filename string) (string, bool) {
	prompt, ok := p[strings.ToLower(filename)]
	return prompt, ok
}

type fakeDownloader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeDownloader) Download(ctx context.Context, url, outputPath string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return storage.WriteFile(outputPath, strings.NewReader("generated:"+url))
}

const presetID = "face__round__a.jpg"

type fixture struct {
	sessions   *storage.SessionStore
	provider   *MockProvider
	downloader *fakeDownloader
	service    *Service
	sessionID  string
}

func newFixture(t *testing.T, quota int) *fixture {
	t.Helper()

	sessions := storage.New(t.TempDir())
	require.NoError(t, sessions.Init())

	sessionID, err := sessions.Create("")
	require.NoError(t, err)
	_, err = sessions.StoreUpload(sessionID, strings.NewReader("\xff\xd8\xff\xe0 jpeg"), ".jpg")
	require.NoError(t, err)

	presets := presetMap{}
	prompts := promptMap{}
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		id := "face__round__" + name
		presets[id] = models.Preset{ID: id, Category: "face", Major: "round", Filename: name}
		prompts[name] = "style " + name
	}
	presets["face__round__nopmt.jpg"] = models.Preset{ID: "face__round__nopmt.jpg", Category: "face", Major: "round", Filename: "nopmt.jpg"}

	f := &fixture{
		sessions:   sessions,
		provider:   &MockProvider{},
		downloader: &fakeDownloader{},
		sessionID:  sessionID,
	}
	f.service = NewService(Options{
		Sessions:          sessions,
		Presets:           presets,
		Prompts:           prompts,
		Provider:          f.provider,
		Downloader:        f.downloader,
		Quota:             quota,
		JobTimeout:        time.Minute,
		MaxConcurrentJobs: 4,
		Now:               func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) expectPipeline(prompt string) {
	f.provider.On("Upload", mock.Anything, mock.Anything, "image/jpeg").Return("https://remote/photo.jpg", nil)
	f.provider.On("SubmitJob", mock.Anything, "https://remote/photo.jpg", prompt).Return("order-1", nil)
	f.provider.On("PollJob", mock.Anything, "order-1").Return("https://remote/out.jpg", nil)
}

func TestApplyGeneratesAndRecords(t *testing.T) {
	f := newFixture(t, 5)
	f.expectPipeline("style a.jpg")

	res, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, presetID, res.PresetID)
	assert.Equal(t, "face", res.Category)
	assert.Equal(t, "result-face_round_a.jpg.jpg", res.Filename)
	assert.Equal(t, "/sessions/"+f.sessionID+"/face/result-face_round_a.jpg.jpg", res.ResultURL)
	assert.Equal(t, "/img/face/round/a.jpg", res.SourcePresetURL)

	data, err := os.ReadFile(filepath.Join(f.sessions.Dir(f.sessionID), "face", "result-face_round_a.jpg.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "generated:https://remote/out.jpg", string(data))

	results, err := f.sessions.LoadResults(f.sessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, presetID, results[0].PresetID)

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, models.CallSuccess, calls[0].Status)
	assert.Equal(t, "providerA", calls[0].Provider)
	assert.Equal(t, "style a.jpg", calls[0].Prompt)
	assert.Equal(t, "order-1", calls[0].OrderID)
	assert.Equal(t, "https://remote/out.jpg", calls[0].OutputURL)
	assert.NotNil(t, calls[0].CompletedAt)

	f.provider.AssertExpectations(t)
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	f.expectPipeline("style a.jpg")

	first, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)
	second, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.ResultURL, second.ResultURL)
	f.provider.AssertNumberOfCalls(t, "Upload", 1)
	f.provider.AssertNumberOfCalls(t, "SubmitJob", 1)
	assert.EqualValues(t, 1, f.downloader.calls.Load())

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestApplyCachedIgnoresQuota(t *testing.T) {
	f := newFixture(t, 1)
	f.expectPipeline("style a.jpg")

	_, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)

	res, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)
	assert.True(t, res.Cached)

	_, err = f.service.Apply(context.Background(), f.sessionID, "face__round__b.jpg")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.QuotaExceeded))
	f.provider.AssertNumberOfCalls(t, "Upload", 1)
}

func TestApplyNotFound(t *testing.T) {
	f := newFixture(t, 5)

	tests := []struct {
		name      string
		sessionID string
		presetID  string
		setup     func(t *testing.T)
	}{
		{name: "unknown session", sessionID: strings.Repeat("a", 32), presetID: presetID},
		{name: "malformed session", sessionID: "../escape", presetID: presetID},
		{name: "unknown preset", sessionID: f.sessionID, presetID: "face__round__zzz.jpg"},
		{name: "missing prompt", sessionID: f.sessionID, presetID: "face__round__nopmt.jpg"},
		{
			name:      "missing photo",
			sessionID: f.sessionID,
			presetID:  presetID,
			setup: func(t *testing.T) {
				require.NoError(t, os.Remove(filepath.Join(f.sessions.Dir(f.sessionID), "latest.jpg")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			_, err := f.service.Apply(context.Background(), tt.sessionID, tt.presetID)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.NotFound), "got %v", err)
		})
	}

	f.provider.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestApplyRecordsFailedCall(t *testing.T) {
	f := newFixture(t, 5)
	f.provider.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("https://remote/photo.jpg", nil)
	f.provider.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return("order-9", nil)
	f.provider.On("PollJob", mock.Anything, "order-9").Return("", apperr.NewNotReady("hairstyle output not ready"))

	_, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotReady))

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, models.CallFailed, calls[0].Status)
	assert.Equal(t, "order-9", calls[0].OrderID)
	assert.Contains(t, calls[0].Error, "not ready")
	assert.NotNil(t, calls[0].CompletedAt)

	results, err := f.sessions.LoadResults(f.sessionID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.downloader.calls.Load())
}

func TestApplyDownloadFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.expectPipeline("style a.jpg")
	f.downloader.err = errors.New("status 404")

	_, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.DownloadFailed))
	assert.True(t, apperr.From(err).Upstream())

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, models.CallFailed, calls[0].Status)
	assert.Equal(t, "https://remote/out.jpg", calls[0].OutputURL)
}

func TestApplyReusesExistingOutput(t *testing.T) {
	f := newFixture(t, 5)
	f.expectPipeline("style a.jpg")

	existing := f.sessions.ResultPath(f.sessionID, "face", presetID)
	require.NoError(t, storage.WriteFile(existing, strings.NewReader("old")))

	_, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.NoError(t, err)
	assert.Zero(t, f.downloader.calls.Load())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestApplyRecoversPanic(t *testing.T) {
	f := newFixture(t, 5)
	f.provider.On("Upload", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("provider exploded")
	}).Return("", nil)

	_, err := f.service.Apply(context.Background(), f.sessionID, presetID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Internal))

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, models.CallFailed, calls[0].Status)
	assert.Contains(t, calls[0].Error, "provider exploded")
}

func TestApplyDetachedFromClientCancel(t *testing.T) {
	f := newFixture(t, 5)

	var uploadCtxErr error
	f.provider.On("Upload", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		uploadCtxErr = args.Get(0).(context.Context).Err()
	}).Return("https://remote/photo.jpg", nil)
	f.provider.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return("order-1", nil)
	f.provider.On("PollJob", mock.Anything, "order-1").Return("https://remote/out.jpg", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.service.Apply(ctx, f.sessionID, presetID)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NoError(t, uploadCtxErr)
}

func TestApplyConcurrentSameSession(t *testing.T) {
	f := newFixture(t, 2)
	f.provider.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("https://remote/photo.jpg", nil)
	f.provider.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return("order-1", nil)
	f.provider.On("PollJob", mock.Anything, mock.Anything).Return("https://remote/out.jpg", nil)

	ids := []string{"face__round__a.jpg", "face__round__b.jpg", "face__round__c.jpg", "face__round__a.jpg"}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.service.Apply(context.Background(), f.sessionID, id)
		}()
	}
	wg.Wait()

	quota := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, apperr.Is(err, apperr.QuotaExceeded), "got %v", err)
			quota++
		}
	}

	results, err := f.sessions.LoadResults(f.sessionID)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	calls, err := f.sessions.LoadCalls(f.sessionID)
	require.NoError(t, err)
	assert.Len(t, calls, 2, "every generated preset leaves exactly one audit entry")
	for _, c := range calls {
		assert.Equal(t, models.CallSuccess, c.Status)
	}

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.PresetID], "duplicate ledger entry for %s", r.PresetID)
		seen[r.PresetID] = true
	}
	assert.GreaterOrEqual(t, quota, 1)
	assert.Zero(t, f.service.locker.Len())
}

func TestApplyRunsSessionsConcurrently(t *testing.T) {
	f := newFixture(t, 5)
	other, err := f.sessions.Create("")
	require.NoError(t, err)
	_, err = f.sessions.StoreUpload(other, strings.NewReader("\xff\xd8\xff\xe0 jpeg"), ".jpg")
	require.NoError(t, err)

	// Left unset so the default job cap applies
	service := NewService(Options{
		Sessions:   f.sessions,
		Presets:    presetMap{presetID: {ID: presetID, Category: "face", Major: "round", Filename: "a.jpg"}},
		Prompts:    promptMap{"a.jpg": "style a.jpg"},
		Provider:   f.provider,
		Downloader: f.downloader,
		JobTimeout: time.Minute,
	})

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	f.provider.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("https://remote/photo.jpg", nil)
	f.provider.On("SubmitJob", mock.Anything, mock.Anything, mock.Anything).Return("order-1", nil)
	f.provider.On("PollJob", mock.Anything, "order-1").Run(func(mock.Arguments) {
		entered <- struct{}{}
		<-release
	}).Return("https://remote/out.jpg", nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{f.sessionID, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = service.Apply(context.Background(), id, presetID)
		}()
	}

	inFlight := 0
	timeout := time.After(5 * time.Second)
	for inFlight < 2 {
		select {
		case <-entered:
			inFlight++
		case <-timeout:
			close(release)
			wg.Wait()
			t.Fatalf("only %d of 2 sessions reached the poll stage at once", inFlight)
		}
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	f.provider.AssertNumberOfCalls(t, "PollJob", 2)
}
