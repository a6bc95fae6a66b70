// Package audit exports the provider-call audit logs of every session to a
// parquet file and summarizes such exports.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/storage"
)

// Record is one audit entry flattened for export. Times are unix
// milliseconds, zero when unset.
type Record struct {
	SessionID   string `parquet:"session_id"`
	CallID      string `parquet:"call_id"`
	PresetID    string `parquet:"preset_id"`
	Provider    string `parquet:"provider"`
	Prompt      string `parquet:"prompt"`
	Status      string `parquet:"status"`
	StartedAt   int64  `parquet:"started_at_ms"`
	CompletedAt int64  `parquet:"completed_at_ms"`
	OrderID     string `parquet:"order_id"`
	OutputURL   string `parquet:"output_url"`
	Error       string `parquet:"error"`
}

// DurationMillis is the call duration, or 0 while it is still running
func (r Record) DurationMillis() int64 {
	if r.CompletedAt == 0 || r.CompletedAt < r.StartedAt {
		return 0
	}
	return r.CompletedAt - r.StartedAt
}

func newRecord(sessionID string, c models.ProviderCall) Record {
	rec := Record{
		SessionID: sessionID,
		CallID:    c.ID,
		PresetID:  c.PresetID,
		Provider:  c.Provider,
		Prompt:    c.Prompt,
		Status:    string(c.Status),
		StartedAt: c.StartedAt.UnixMilli(),
		OrderID:   c.OrderID,
		OutputURL: c.OutputURL,
		Error:     c.Error,
	}
	if c.CompletedAt != nil {
		rec.CompletedAt = c.CompletedAt.UnixMilli()
	}
	return rec
}

// Collect reads the audit log of every session, up to concurrency at a time.
// Records are ordered by session id, then start time.
func Collect(ctx context.Context, sessions *storage.SessionStore, concurrency int) ([]Record, error) {
	ids, err := sessions.List()
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	perSession := make([][]Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			calls, err := sessions.LoadCalls(id)
			if err != nil {
				return fmt.Errorf("failed to load audit log of session %s: %w", id, err)
			}
			recs := make([]Record, 0, len(calls))
			for _, c := range calls {
				recs = append(recs, newRecord(id, c))
			}
			perSession[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []Record
	for _, recs := range perSession {
		records = append(records, recs...)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SessionID != records[j].SessionID {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].StartedAt < records[j].StartedAt
	})
	return records, nil
}

// Export writes all sessions' audit entries to outputPath and returns how
// many were written
func Export(ctx context.Context, sessions *storage.SessionStore, outputPath string, concurrency int) (int, error) {
	records, err := Collect(ctx, sessions, concurrency)
	if err != nil {
		return 0, err
	}
	if err := Write(outputPath, records); err != nil {
		return 0, err
	}
	slog.Info("Audit log exported", "path", outputPath, "records", len(records))
	return len(records), nil
}

// Write encodes records as parquet and atomically replaces path
func Write(path string, records []Record) error {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[Record](&buf)
	if _, err := writer.Write(records); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := storage.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Read loads every record of a parquet export
func Read(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	records := make([]Record, 0, pf.NumRows())
	rows := make([]Record, 128)
	for {
		n, err := reader.Read(rows)
		records = append(records, rows[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return records, nil
}

// SummaryRow counts the calls of one provider in one status
type SummaryRow struct {
	Provider      string `json:"provider" yaml:"provider"`
	Status        string `json:"status" yaml:"status"`
	Count         int    `json:"count" yaml:"count"`
	AvgDurationMs int64  `json:"avgDurationMs" yaml:"avg_duration_ms"`
}

// Summarize groups records by provider and status, ordered by both
func Summarize(records []Record) []SummaryRow {
	type key struct{ provider, status string }
	type acc struct {
		row       SummaryRow
		completed int64
		total     int64
	}

	groups := make(map[key]*acc)
	for _, r := range records {
		k := key{r.Provider, r.Status}
		g, ok := groups[k]
		if !ok {
			g = &acc{row: SummaryRow{Provider: r.Provider, Status: r.Status}}
			groups[k] = g
		}
		g.row.Count++
		if d := r.DurationMillis(); d > 0 {
			g.completed++
			g.total += d
		}
	}

	rows := make([]SummaryRow, 0, len(groups))
	for _, g := range groups {
		if g.completed > 0 {
			g.row.AvgDurationMs = g.total / g.completed
		}
		rows = append(rows, g.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Provider != rows[j].Provider {
			return rows[i].Provider < rows[j].Provider
		}
		return rows[i].Status < rows[j].Status
	})
	return rows
}
