package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/looks-salon/looks/internal/models"
)

// ImageExtensions is the allow-list of preset image extensions (lower-case)
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Catalog is the in-memory index of preset images under root/<category>/<major>/
type Catalog struct {
	root    string
	presets map[string]models.Preset
	mu      sync.RWMutex
}

// New creates an empty catalog; call Reload before serving traffic
func New(root string) *Catalog {
	return &Catalog{
		root:    root,
		presets: make(map[string]models.Preset),
	}
}

// BuildID derives the preset identifier from its identity triple
func BuildID(category, major, filename string) string {
	return category + "__" + major + "__" + filename
}

// IsImage reports whether the filename carries an allowed image extension
func IsImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Scan walks the two-level directory tree. A missing root yields an empty map.
func (c *Catalog) Scan() (map[string]models.Preset, error) {
	presets := make(map[string]models.Preset)

	categories, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Preset image root does not exist", "root", c.root)
			return presets, nil
		}
		return nil, fmt.Errorf("failed to read preset root: %w", err)
	}

	for _, categoryEntry := range categories {
		if !categoryEntry.IsDir() {
			continue
		}
		category := categoryEntry.Name()
		categoryDir := filepath.Join(c.root, category)

		majors, err := os.ReadDir(categoryDir)
		if err != nil {
			slog.Warn("Skipping unreadable category", "category", category, "err", err)
			continue
		}

		for _, majorEntry := range majors {
			if !majorEntry.IsDir() {
				continue
			}
			major := majorEntry.Name()
			majorDir := filepath.Join(categoryDir, major)

			files, err := os.ReadDir(majorDir)
			if err != nil {
				slog.Warn("Skipping unreadable sub-category", "category", category, "major", major, "err", err)
				continue
			}

			for _, file := range files {
				if file.IsDir() || !IsImage(file.Name()) {
					continue
				}
				absPath, err := filepath.Abs(filepath.Join(majorDir, file.Name()))
				if err != nil {
					absPath = filepath.Join(majorDir, file.Name())
				}
				id := BuildID(category, major, file.Name())
				presets[id] = models.Preset{
					ID:       id,
					Category: category,
					Major:    major,
					Filename: file.Name(),
					Path:     absPath,
				}
			}
		}
	}

	return presets, nil
}

// Reload rescans the tree and replaces the whole index
func (c *Catalog) Reload() (int, error) {
	presets, err := c.Scan()
	if err != nil {
		return 0, err
	}
	return c.Replace(presets), nil
}

// Replace installs an index built by Scan and returns its size
func (c *Catalog) Replace(presets map[string]models.Preset) int {
	c.mu.Lock()
	c.presets = presets
	c.mu.Unlock()

	slog.Info("Preset catalog loaded", "root", c.root, "presets", len(presets))
	return len(presets)
}

func (c *Catalog) Get(id string) (models.Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	preset, ok := c.presets[id]
	return preset, ok
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.presets)
}

// List filters by category and sub-category, case-insensitively. Empty
// arguments do not filter. Results are ordered by id.
func (c *Catalog) List(category, major string) []models.Preset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]models.Preset, 0, len(c.presets))
	for _, preset := range c.presets {
		if category != "" && !strings.EqualFold(preset.Category, category) {
			continue
		}
		if major != "" && !strings.EqualFold(preset.Major, major) {
			continue
		}
		items = append(items, preset)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items
}

// Majors returns the sorted distinct sub-categories of a category
func (c *Catalog) Majors(category string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	majors := []string{}
	for _, preset := range c.presets {
		if !strings.EqualFold(preset.Category, category) || seen[preset.Major] {
			continue
		}
		seen[preset.Major] = true
		majors = append(majors, preset.Major)
	}
	sort.Strings(majors)
	return majors
}

// Root returns the directory the catalog scans
func (c *Catalog) Root() string {
	return c.root
}
