package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/storage"
)

type sessionReport struct {
	ID       string       `yaml:"id"`
	UserType string       `yaml:"user_type,omitempty"`
	Photo    string       `yaml:"photo,omitempty"`
	Results  []resultLine `yaml:"results"`
	Calls    []callLine   `yaml:"calls"`
	Files    []string     `yaml:"files"`
}

type resultLine struct {
	PresetID  string    `yaml:"preset_id"`
	ResultURL string    `yaml:"result_url"`
	CreatedAt time.Time `yaml:"created_at"`
}

type callLine struct {
	PresetID  string    `yaml:"preset_id"`
	Provider  string    `yaml:"provider"`
	Status    string    `yaml:"status"`
	StartedAt time.Time `yaml:"started_at"`
	OrderID   string    `yaml:"order_id,omitempty"`
	Error     string    `yaml:"error,omitempty"`
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's ledger, audit log and files as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := buildSessionReport(storage.New(cfg.SessionsRoot), args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd, report)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := storage.New(cfg.SessionsRoot).List()
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			return writeYAML(cmd, ids)
		},
	})

	return cmd
}

// buildSessionReport shows the ledger and the raw file listing side by side;
// they are not reconciled
func buildSessionReport(sessions *storage.SessionStore, sessionID string) (*sessionReport, error) {
	meta, err := sessions.LoadMeta(sessionID)
	if err != nil {
		return nil, err
	}
	results, err := sessions.LoadResults(sessionID)
	if err != nil {
		return nil, err
	}
	calls, err := sessions.LoadCalls(sessionID)
	if err != nil {
		return nil, err
	}
	files, err := sessions.ListResultFiles(sessionID)
	if err != nil {
		return nil, err
	}

	report := &sessionReport{
		ID:      sessionID,
		Results: []resultLine{},
		Calls:   []callLine{},
		Files:   []string{},
	}
	if meta != nil {
		report.UserType = meta.UserType
	}
	if photo, ok := sessions.LatestPhoto(sessionID); ok {
		report.Photo = filepath.Base(photo)
	}
	for _, r := range results {
		report.Results = append(report.Results, resultLine{PresetID: r.PresetID, ResultURL: r.ResultURL, CreatedAt: r.CreatedAt})
	}
	for _, c := range calls {
		report.Calls = append(report.Calls, newCallLine(c))
	}
	for _, f := range files {
		report.Files = append(report.Files, f.Category+"/"+f.Filename)
	}
	return report, nil
}

func newCallLine(c models.ProviderCall) callLine {
	return callLine{
		PresetID:  c.PresetID,
		Provider:  c.Provider,
		Status:    string(c.Status),
		StartedAt: c.StartedAt,
		OrderID:   c.OrderID,
		Error:     c.Error,
	}
}
