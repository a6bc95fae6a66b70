package models

import (
	"net/url"
	"time"
)

// Preset is a catalogued style reference image
type Preset struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Major     string `json:"major"` // sub-category
	Filename  string `json:"filename"`
	Path      string `json:"-"`
	DisplayID string `json:"displayId,omitempty"`
}

// ImageURL is the public path the preset image is served under
func (p Preset) ImageURL() string {
	return "/img/" + url.PathEscape(p.Category) + "/" + url.PathEscape(p.Major) + "/" + url.PathEscape(p.Filename)
}

// PresetView is the API representation of a preset
type PresetView struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Major     string `json:"major"`
	Filename  string `json:"filename"`
	ImageURL  string `json:"imageUrl"`
	DisplayID string `json:"displayId,omitempty"`
}

func (p Preset) View() PresetView {
	return PresetView{
		ID:        p.ID,
		Category:  p.Category,
		Major:     p.Major,
		Filename:  p.Filename,
		ImageURL:  p.ImageURL(),
		DisplayID: p.DisplayID,
	}
}

// PromptEntry is one row of the prompt spreadsheet, keyed by lower-cased filename
type PromptEntry struct {
	Filename  string `json:"filename"`
	Prompt    string `json:"prompt"`
	DisplayID string `json:"displayId,omitempty"`
	Sheet     string `json:"sheet,omitempty"`
}

// PromptMatch is the result of a fuzzy prompt lookup
type PromptMatch struct {
	Filename   string   `json:"filename"`
	Exists     bool     `json:"exists"`
	Prompt     string   `json:"prompt,omitempty"`
	Candidates []string `json:"candidates"`
}

// PromptStatus summarizes the loaded prompt source
type PromptStatus struct {
	Source         string    `json:"source"`
	SourceExists   bool      `json:"sourceExists"`
	Entries        int       `json:"entries"`
	EligibleSheets int       `json:"eligibleSheets"`
	LoadedAt       time.Time `json:"loadedAt"`
}

// SessionMeta is the optional metadata record of a session
type SessionMeta struct {
	UserType string `json:"userType,omitempty"`
}

// Result is a completed generation recorded in a session ledger
type Result struct {
	PresetID  string    `json:"presetId"`
	Category  string    `json:"category"`
	Filename  string    `json:"filename"`
	ResultURL string    `json:"resultUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// CallStatus is the lifecycle state of a provider call
type CallStatus string

const (
	CallStarted CallStatus = "started"
	CallSuccess CallStatus = "success"
	CallFailed  CallStatus = "failed"
)

// ProviderCall is one entry of a session's audit log
type ProviderCall struct {
	ID          string     `json:"id"`
	PresetID    string     `json:"presetId"`
	Provider    string     `json:"provider"`
	Prompt      string     `json:"prompt"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	OrderID     string     `json:"orderId,omitempty"`
	OutputURL   string     `json:"outputUrl,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ResultFile is a produced file found by scanning a session directory
type ResultFile struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	ImageURL string `json:"imageUrl"`
}

// ApplyResult is what an apply call returns to the client
type ApplyResult struct {
	SessionID       string    `json:"sessionId"`
	PresetID        string    `json:"presetId"`
	Category        string    `json:"category"`
	Filename        string    `json:"filename"`
	SourcePresetURL string    `json:"sourcePresetUrl"`
	ResultURL       string    `json:"resultUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	Cached          bool      `json:"cached"`
}
