// Package generation runs the apply workflow: ledger replay, quota, the
// provider pipeline and the audit trail of every provider call.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/images"
	"github.com/looks-salon/looks/internal/metrics"
	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/providers"
	"github.com/looks-salon/looks/internal/storage"
)

// PresetSource resolves preset ids
type PresetSource interface {
	Get(id string) (models.Preset, bool)
}

// PromptSource resolves preset filenames to prompts
type PromptSource interface {
	Lookup(filename string) (string, bool)
}

// Downloader fetches a provider output into a local file
type Downloader interface {
	Download(ctx context.Context, url, outputPath string) error
}

// DefaultMaxConcurrentJobs is the provider job cap used when Options leaves
// MaxConcurrentJobs unset
const DefaultMaxConcurrentJobs = 16

type Options struct {
	Sessions   *storage.SessionStore
	Presets    PresetSource
	Prompts    PromptSource
	Provider   providers.Provider
	Downloader Downloader
	// Locker serializes apply calls per session. A private one is created
	// when nil.
	Locker *storage.Locker

	Quota             int
	JobTimeout        time.Duration
	MaxConcurrentJobs int

	Now func() time.Time
}

type Service struct {
	sessions   *storage.SessionStore
	presets    PresetSource
	prompts    PromptSource
	provider   providers.Provider
	downloader Downloader
	locker     *storage.Locker
	jobs       *semaphore.Weighted
	quota      int
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = storage.NewLocker()
	}
	if opts.Quota < 1 {
		opts.Quota = 5
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Downloader == nil {
		opts.Downloader = images.NewFetcher(nil)
	}
	return &Service{
		sessions:   opts.Sessions,
		presets:    opts.Presets,
		prompts:    opts.Prompts,
		provider:   opts.Provider,
		downloader: opts.Downloader,
		locker:     opts.Locker,
		jobs:       semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		quota:      opts.Quota,
		jobTimeout: opts.JobTimeout,
		now:        opts.Now,
	}
}

func (s *Service) Quota() int {
	return s.quota
}

// Apply produces (or replays) the result of presetID for a session.
//
// A preset already in the session ledger is returned as-is without touching
// the provider or the quota. Otherwise the photo goes through upload, submit
// and poll, the output is stored under the session's category directory and a
// ledger entry is appended. Every provider attempt leaves an audit entry that
// ends up as success or failed.
func (s *Service) Apply(ctx context.Context, sessionID, presetID string) (*models.ApplyResult, error) {
	outcome := "failed"
	defer func() { metrics.RecordApply(outcome) }()

	if !s.sessions.Exists(sessionID) {
		outcome = "not_found"
		return nil, apperr.NewNotFound("session", sessionID)
	}
	preset, ok := s.presets.Get(presetID)
	if !ok {
		outcome = "not_found"
		return nil, apperr.NewNotFound("preset", presetID)
	}

	unlock := s.locker.Lock(sessionID)
	defer unlock()

	results, err := s.sessions.LoadResults(sessionID)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.PresetID == presetID {
			outcome = "cached"
			slog.Info("Returning cached hairstyle", "session_id", sessionID, "preset_id", presetID)
			return s.applyResult(sessionID, preset, r, true), nil
		}
	}

	if len(results) >= s.quota {
		outcome = "quota"
		return nil, apperr.NewQuotaExceeded(s.quota)
	}

	prompt, ok := s.prompts.Lookup(preset.Filename)
	if !ok || prompt == "" {
		outcome = "not_found"
		return nil, apperr.NewNotFound("prompt for preset", presetID)
	}

	photo, ok := s.sessions.LatestPhoto(sessionID)
	if !ok {
		outcome = "not_found"
		return nil, apperr.NewNotFound("source photo for session", sessionID)
	}

	// The remote job keeps running if the client goes away, bounded by the
	// job timeout instead.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.jobTimeout)
	defer cancel()

	result, err := s.generate(jobCtx, sessionID, preset, prompt, photo)
	if err != nil {
		return nil, err
	}

	results = append(results, *result)
	if err := s.sessions.SaveResults(sessionID, results); err != nil {
		return nil, fmt.Errorf("failed to save session ledger: %w", err)
	}

	outcome = "success"
	slog.Info("Hairstyle generated", "session_id", sessionID, "preset_id", presetID, "result_url", result.ResultURL)
	return s.applyResult(sessionID, preset, *result, false), nil
}

// generate runs the audited part of apply, from the started audit entry to
// the stored output file
func (s *Service) generate(ctx context.Context, sessionID string, preset models.Preset, prompt, photo string) (result *models.Result, err error) {
	call := models.ProviderCall{
		ID:        uuid.NewString(),
		PresetID:  preset.ID,
		Provider:  s.provider.Name(),
		Prompt:    prompt,
		Status:    models.CallStarted,
		StartedAt: s.now().UTC(),
	}
	calls, err := s.sessions.LoadCalls(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SaveCalls(sessionID, append(calls, call)); err != nil {
		return nil, fmt.Errorf("failed to save audit log: %w", err)
	}

	var orderID, outputURL string
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during hairstyle generation", "session_id", sessionID, "preset_id", preset.ID, "panic", r)
			err = apperr.NewInternal(fmt.Errorf("panic: %v", r))
			result = nil
		}
		if err == nil {
			return
		}
		slog.Error("Hairstyle generation failed", "session_id", sessionID, "preset_id", preset.ID, "provider", call.Provider, "err", err)
		s.amendCall(sessionID, call.ID, func(c *models.ProviderCall) {
			c.Status = models.CallFailed
			c.Error = err.Error()
			c.OrderID = orderID
			c.OutputURL = outputURL
		})
	}()

	if err := s.jobs.Acquire(ctx, 1); err != nil {
		return nil, apperr.NewUnavailable(call.Provider, fmt.Errorf("no job slot available: %w", err))
	}
	defer s.jobs.Release(1)

	data, err := os.ReadFile(photo)
	if err != nil {
		return nil, fmt.Errorf("failed to read source photo: %w", err)
	}

	remoteURL, err := s.provider.Upload(ctx, data, images.DetectMIME(data, photo))
	if err != nil {
		return nil, err
	}
	orderID, err = s.provider.SubmitJob(ctx, remoteURL, prompt)
	if err != nil {
		return nil, err
	}
	outputURL, err = s.provider.PollJob(ctx, orderID)
	if err != nil {
		return nil, err
	}

	outPath := s.sessions.ResultPath(sessionID, preset.Category, preset.ID)
	if _, statErr := os.Stat(outPath); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to check result file: %w", statErr)
		}
		if err := s.downloader.Download(ctx, outputURL, outPath); err != nil {
			return nil, apperr.NewDownloadFailed("failed to download provider output", err)
		}
	} else {
		slog.Debug("Reusing existing result file", "path", outPath)
	}

	if err := s.amendCall(sessionID, call.ID, func(c *models.ProviderCall) {
		c.Status = models.CallSuccess
		c.OrderID = orderID
		c.OutputURL = outputURL
	}); err != nil {
		return nil, err
	}

	filename := storage.ResultFilename(preset.ID)
	return &models.Result{
		PresetID:  preset.ID,
		Category:  preset.Category,
		Filename:  filename,
		ResultURL: storage.FileURL(sessionID, preset.Category, filename),
		CreatedAt: s.now().UTC(),
	}, nil
}

// amendCall rewrites the audit entry with the given id and stamps its
// completion time
func (s *Service) amendCall(sessionID, callID string, update func(*models.ProviderCall)) error {
	calls, err := s.sessions.LoadCalls(sessionID)
	if err != nil {
		slog.Error("Failed to load audit log", "session_id", sessionID, "err", err)
		return err
	}
	for i := range calls {
		if calls[i].ID != callID {
			continue
		}
		update(&calls[i])
		completed := s.now().UTC()
		calls[i].CompletedAt = &completed
		if err := s.sessions.SaveCalls(sessionID, calls); err != nil {
			slog.Error("Failed to save audit log", "session_id", sessionID, "err", err)
			return fmt.Errorf("failed to save audit log: %w", err)
		}
		return nil
	}
	slog.Warn("Audit entry disappeared before it could be amended", "session_id", sessionID, "call_id", callID)
	return nil
}

func (s *Service) applyResult(sessionID string, preset models.Preset, r models.Result, cached bool) *models.ApplyResult {
	return &models.ApplyResult{
		SessionID:       sessionID,
		PresetID:        r.PresetID,
		Category:        r.Category,
		Filename:        r.Filename,
		SourcePresetURL: preset.ImageURL(),
		ResultURL:       r.ResultURL,
		CreatedAt:       r.CreatedAt,
		Cached:          cached,
	}
}
