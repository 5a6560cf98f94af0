package models

import (
	"encoding/json"
	"fmt"

	"github.com/secbot-io/secbot/common/gitlab"
)

// InputData is the per-event record composed at ingress and handed to
// every scan task of the matched job.
type InputData struct {
	CheckID int64           `json:"check_id"`
	Event   gitlab.Event    `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// EventData re-parses the raw webhook payload carried by the artifact.
func (d *InputData) EventData() (*gitlab.EventData, error) {
	return gitlab.ParseEvent(d.Event, d.Payload)
}

// ScanResultFile is the artifact a scanner produced for one commit.
type ScanResultFile struct {
	CommitHash string          `json:"commit_hash"`
	ScanName   string          `json:"scan_name"`
	Format     string          `json:"format"`
	Content    json.RawMessage `json:"content"`
}

// Filename is the canonical artifact name used for vendor uploads.
func (f ScanResultFile) Filename() string {
	return fmt.Sprintf("%s_gitlab_%s.%s", f.CommitHash, f.ScanName, f.Format)
}

// ScanResult is produced by a scan task and consumed by every output task
// of the same job.
type ScanResult struct {
	ScanID        int64          `json:"scan_id"`
	HandlerName   string         `json:"handler_name"`
	ComponentName string         `json:"component_name"`
	Input         InputData      `json:"input"`
	File          ScanResultFile `json:"file"`
}

// OutputFinding is a single finding reported by an output system.
type OutputFinding struct {
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	URL      string   `json:"url"`
}

// OutputResponse summarizes what the output system ingested.
type OutputResponse struct {
	ProjectName string          `json:"project_name"`
	ProjectURL  string          `json:"project_url"`
	Findings    []OutputFinding `json:"findings"`
}

// OutputResult is produced by an output task and consumed by the
// notification tasks of the same chain.
type OutputResult struct {
	HandlerName   string         `json:"handler_name"`
	ComponentName string         `json:"component_name"`
	ScanResult    ScanResult     `json:"scan_result"`
	Response      OutputResponse `json:"response"`
}
