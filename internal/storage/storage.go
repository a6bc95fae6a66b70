package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/models"
)

const (
	resultsFile = "results.json"
	callsFile   = "calls.json"
	metaFile    = "meta.json"
	latestBase  = "latest"
)

// PhotoExtensions is the lookup order for a session's latest photo
var PhotoExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func sessionIDValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidSessionID reports whether id has the shape of a generated session token
func ValidSessionID(id string) bool {
	return sessionIDValidator().Var(id, "required,hexadecimal,len=32,lowercase") == nil
}

// SessionStore keeps one directory per session under root
type SessionStore struct {
	root string
}

func New(root string) *SessionStore {
	return &SessionStore{root: root}
}

// Init creates the sessions root
func (s *SessionStore) Init() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create sessions root: %w", err)
	}
	return nil
}

func (s *SessionStore) Root() string {
	return s.root
}

func (s *SessionStore) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Exists reports whether the session directory exists. Malformed ids never exist.
func (s *SessionStore) Exists(sessionID string) bool {
	if !ValidSessionID(sessionID) {
		return false
	}
	info, err := os.Stat(s.Dir(sessionID))
	return err == nil && info.IsDir()
}

func (s *SessionStore) requireSession(sessionID string) error {
	if !s.Exists(sessionID) {
		return apperr.NewNotFound("session", sessionID)
	}
	return nil
}

// Create allocates a new session directory. Metadata is written only when
// userType is supplied.
func (s *SessionStore) Create(userType string) (string, error) {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.MkdirAll(s.Dir(sessionID), 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	if userType != "" {
		if err := s.writeJSON(sessionID, metaFile, models.SessionMeta{UserType: userType}); err != nil {
			return "", err
		}
	}

	slog.Info("Session created", "session_id", sessionID, "user_type", userType)
	return sessionID, nil
}

// LoadMeta returns the optional session metadata
func (s *SessionStore) LoadMeta(sessionID string) (*models.SessionMeta, error) {
	if err := s.requireSession(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(sessionID), metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}
	var meta models.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		slog.Warn("Ignoring malformed session metadata", "session_id", sessionID, "err", err)
		return nil, nil
	}
	return &meta, nil
}

// PhotoExtension returns the extension to store an upload under, defaulting
// to .jpg when the suggestion is missing or not an image type
func PhotoExtension(suggested string) string {
	ext := strings.ToLower(strings.TrimSpace(suggested))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, allowed := range PhotoExtensions {
		if ext == allowed {
			return ext
		}
	}
	return ".jpg"
}

// StoreUpload writes the session's latest photo, replacing any previous one
// even if its extension differs
func (s *SessionStore) StoreUpload(sessionID string, content io.Reader, suggestedExt string) (string, error) {
	if err := s.requireSession(sessionID); err != nil {
		return "", err
	}

	ext := PhotoExtension(suggestedExt)
	dest := filepath.Join(s.Dir(sessionID), latestBase+ext)
	if err := writeFileAtomic(dest, content); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	for _, other := range PhotoExtensions {
		if other == ext {
			continue
		}
		stale := filepath.Join(s.Dir(sessionID), latestBase+other)
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove stale upload", "path", stale, "err", err)
		}
	}

	slog.Info("Photo uploaded", "session_id", sessionID, "file", filepath.Base(dest))
	return dest, nil
}

// LatestPhoto returns the current uploaded photo, checking extensions in
// PhotoExtensions order
func (s *SessionStore) LatestPhoto(sessionID string) (string, bool) {
	if !ValidSessionID(sessionID) {
		return "", false
	}
	for _, ext := range PhotoExtensions {
		candidate := filepath.Join(s.Dir(sessionID), latestBase+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// LoadResults reads the ledger. Missing or malformed documents read as empty.
func (s *SessionStore) LoadResults(sessionID string) ([]models.Result, error) {
	var results []models.Result
	if err := s.readJSON(sessionID, resultsFile, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.Result{}
	}
	return results, nil
}

func (s *SessionStore) SaveResults(sessionID string, results []models.Result) error {
	if err := s.requireSession(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, resultsFile, results)
}

// LoadCalls reads the audit log. Missing or malformed documents read as empty.
func (s *SessionStore) LoadCalls(sessionID string) ([]models.ProviderCall, error) {
	var calls []models.ProviderCall
	if err := s.readJSON(sessionID, callsFile, &calls); err != nil {
		return nil, err
	}
	if calls == nil {
		calls = []models.ProviderCall{}
	}
	return calls, nil
}

func (s *SessionStore) SaveCalls(sessionID string, calls []models.ProviderCall) error {
	if err := s.requireSession(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, callsFile, calls)
}

// ResultPath is the deterministic location of a preset's output file
func (s *SessionStore) ResultPath(sessionID, category, presetID string) string {
	return filepath.Join(s.Dir(sessionID), category, ResultFilename(presetID))
}

// ResultFilename derives the output filename from a preset id
func ResultFilename(presetID string) string {
	return "result-" + strings.ReplaceAll(presetID, "__", "_") + ".jpg"
}

// FileURL is the public path of a file inside a session directory
func FileURL(sessionID string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "/sessions", url.PathEscape(sessionID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

// ListResultFiles scans category sub-directories for produced files. It does
// not consult the ledger.
func (s *SessionStore) ListResultFiles(sessionID string) ([]models.ResultFile, error) {
	if err := s.requireSession(sessionID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	files := []models.ResultFile{}
	for _, categoryEntry := range entries {
		if !categoryEntry.IsDir() {
			continue
		}
		category := categoryEntry.Name()
		produced, err := os.ReadDir(filepath.Join(s.Dir(sessionID), category))
		if err != nil {
			slog.Warn("Skipping unreadable result directory", "session_id", sessionID, "category", category, "err", err)
			continue
		}
		for _, f := range produced {
			if !f.Type().IsRegular() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			files = append(files, models.ResultFile{
				Category: category,
				Filename: f.Name(),
				ImageURL: FileURL(sessionID, category, f.Name()),
			})
		}
	}
	return files, nil
}

// List returns the ids of all session directories
func (s *SessionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidSessionID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *SessionStore) readJSON(sessionID, name string, v any) error {
	if err := s.requireSession(sessionID); err != nil {
		return err
	}
	path := filepath.Join(s.Dir(sessionID), name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("Treating malformed document as empty", "session_id", sessionID, "file", name, "err", err)
	}
	return nil
}

func (s *SessionStore) writeJSON(sessionID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.Dir(sessionID), name)
	if err := writeFileAtomic(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the destination directory and
// renames it into place
func writeFileAtomic(dest string, content io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteFile atomically writes content to path
func WriteFile(path string, content io.Reader) error {
	return writeFileAtomic(path, content)
}
