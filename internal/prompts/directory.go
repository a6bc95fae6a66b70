package prompts

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/looks-salon/looks/internal/models"
)

const (
	promptHeader    = "Prompt"
	imagePathHeader = "ImagePath"
	idHeader        = "ID"

	maxCandidates = 5
	minSimilarity = 0.6
)

// Directory maps preset image filenames to generation prompts loaded from a
// spreadsheet
type Directory struct {
	path           string
	entries        map[string]models.PromptEntry
	eligibleSheets int
	sourceExists   bool
	loadedAt       time.Time
	mu             sync.RWMutex
}

func New(path string) *Directory {
	return &Directory{
		path:    path,
		entries: make(map[string]models.PromptEntry),
	}
}

// Load reads every eligible sheet of the workbook and replaces the directory
// contents. A missing workbook leaves the directory empty and is not an
// error. On any other error the previous contents are kept.
func (d *Directory) Load() error {
	entries := make(map[string]models.PromptEntry)
	eligibleSheets := 0
	loadedAt := time.Now()

	if _, err := os.Stat(d.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Prompt workbook not found, prompt directory is empty", "path", d.path)
			d.replace(entries, 0, false, loadedAt)
			return nil
		}
		return fmt.Errorf("failed to stat prompt workbook: %w", err)
	}

	f, err := excelize.OpenFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to open prompt workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			slog.Warn("Skipping unreadable sheet", "sheet", sheet, "err", err)
			continue
		}
		if loadSheet(entries, sheet, rows) {
			eligibleSheets++
		}
	}

	d.replace(entries, eligibleSheets, true, loadedAt)
	slog.Info("Prompt directory loaded", "path", d.path, "entries", len(entries), "sheets", eligibleSheets)
	return nil
}

func (d *Directory) replace(entries map[string]models.PromptEntry, eligibleSheets int, sourceExists bool, loadedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = entries
	d.eligibleSheets = eligibleSheets
	d.sourceExists = sourceExists
	d.loadedAt = loadedAt
}

// loadSheet adds the rows of one sheet to entries and reports whether the
// sheet had the required header columns
func loadSheet(entries map[string]models.PromptEntry, sheet string, rows [][]string) bool {
	if len(rows) == 0 {
		return false
	}

	promptIdx, pathIdx, idIdx := -1, -1, -1
	for i, header := range rows[0] {
		switch strings.TrimSpace(header) {
		case promptHeader:
			promptIdx = i
		case imagePathHeader:
			pathIdx = i
		case idHeader:
			idIdx = i
		}
	}
	if promptIdx < 0 || pathIdx < 0 {
		return false
	}

	for _, row := range rows[1:] {
		prompt := strings.TrimSpace(cell(row, promptIdx))
		imagePath := strings.TrimSpace(cell(row, pathIdx))
		if prompt == "" || imagePath == "" {
			continue
		}

		filename := FilenameKey(imagePath)
		if filename == "" {
			continue
		}
		entries[filename] = models.PromptEntry{
			Filename:  filename,
			Prompt:    prompt,
			DisplayID: normalizeID(cell(row, idIdx)),
			Sheet:     sheet,
		}
	}
	return true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// FilenameKey returns the lower-cased final path component. Both POSIX and
// Windows separators are recognized regardless of the host OS.
func FilenameKey(imagePath string) string {
	imagePath = strings.TrimSpace(imagePath)
	if i := strings.LastIndexAny(imagePath, `/\`); i >= 0 {
		imagePath = imagePath[i+1:]
	}
	return strings.ToLower(imagePath)
}

// normalizeID renders whole-number ids as integer text ("12.0" -> "12")
func normalizeID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return raw
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return raw
}

// Lookup returns the prompt for a preset filename
func (d *Directory) Lookup(filename string) (string, bool) {
	entry, ok := d.Entry(filename)
	if !ok {
		return "", false
	}
	return entry.Prompt, true
}

func (d *Directory) Entry(filename string) (models.PromptEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[strings.ToLower(filename)]
	return entry, ok
}

// FuzzyLookup reports whether a filename is known and lists up to five of
// the closest known filenames
func (d *Directory) FuzzyLookup(filename string) models.PromptMatch {
	key := strings.ToLower(strings.TrimSpace(filename))

	d.mu.RLock()
	defer d.mu.RUnlock()

	match := models.PromptMatch{
		Filename:   key,
		Candidates: []string{},
	}
	if entry, ok := d.entries[key]; ok {
		match.Exists = true
		match.Prompt = entry.Prompt
	}

	type scored struct {
		name  string
		score float64
	}
	var ranked []scored
	for known := range d.entries {
		score := calculateSimilarity(key, known)
		if score >= minSimilarity {
			ranked = append(ranked, scored{name: known, score: score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	for i := 0; i < len(ranked) && i < maxCandidates; i++ {
		match.Candidates = append(match.Candidates, ranked[i].name)
	}

	return match
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) Status() models.PromptStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return models.PromptStatus{
		Source:         d.path,
		SourceExists:   d.sourceExists,
		Entries:        len(d.entries),
		EligibleSheets: d.eligibleSheets,
		LoadedAt:       d.loadedAt,
	}
}
