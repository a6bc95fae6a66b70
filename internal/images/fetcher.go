package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/looks-salon/looks/internal/storage"
)

// maxOutputBytes bounds a downloaded provider output
const maxOutputBytes = 50 << 20

// ErrOutputTooLarge is returned when a provider output exceeds MaxBytes
var ErrOutputTooLarge = errors.New("provider output exceeds size limit")

// Fetcher downloads generated images from provider output URLs
type Fetcher struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

// NewFetcher creates a new image fetcher. A nil client gets a 60s default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{HTTPClient: client, MaxBytes: maxOutputBytes}
}

// limitedReader fails instead of stopping quietly once more than limit bytes
// have been read, so a partial file is never renamed into place
type limitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, ErrOutputTooLarge
	}
	return n, err
}

// Download fetches url and atomically writes it to outputPath
func (f *Fetcher) Download(ctx context.Context, url, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("output download returned status %d", resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = maxOutputBytes
	}
	if resp.ContentLength > limit {
		return fmt.Errorf("%w: %d bytes", ErrOutputTooLarge, resp.ContentLength)
	}

	if err := storage.WriteFile(outputPath, &limitedReader{r: resp.Body, limit: limit}); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	slog.Debug("Downloaded provider output", "path", outputPath, "content_type", resp.Header.Get("Content-Type"))
	return nil
}

// DetectMIME returns the image MIME type of data, falling back to the file
// extension and finally to image/jpeg
func DetectMIME(data []byte, filename string) string {
	mimeType := http.DetectContentType(data)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
