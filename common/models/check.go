package models

import (
	"encoding/json"
	"time"

	"github.com/secbot-io/secbot/common/gitlab"
)

// SecurityCheckStatus is the externally visible verdict of a security check.
type SecurityCheckStatus string

const (
	CheckNotStarted SecurityCheckStatus = "not_started"
	CheckInProgress SecurityCheckStatus = "in_progress"
	CheckError      SecurityCheckStatus = "error"

	// All the data has been obtained.
	CheckFail    SecurityCheckStatus = "fail"    // vulnerabilities found
	CheckSuccess SecurityCheckStatus = "success" // no vulnerabilities, or acceptable ones
)

// ScanStatus is the internal status of a single scanner execution.
type ScanStatus string

const (
	ScanNew        ScanStatus = "new"
	ScanInProgress ScanStatus = "in_progress"
	ScanSkip       ScanStatus = "skip" // scan intentionally skipped, not blocking
	ScanError      ScanStatus = "error"
	ScanDone       ScanStatus = "done"
)

// Check is the durable record of evaluating one commit of one project.
// Each webhook event with the same (prefix, project, commit) identity maps
// to exactly one Check.
// Maps to: security_check table
type Check struct {
	ID         int64  `db:"id" json:"id"`
	ExternalID string `db:"external_id" json:"external_id"`

	EventType gitlab.Event    `db:"event_type" json:"event_type"`
	EventJSON json.RawMessage `db:"event_json" json:"event_json"`

	CommitHash  string `db:"commit_hash" json:"commit_hash"`
	Branch      string `db:"branch" json:"branch"`
	ProjectName string `db:"project_name" json:"project_name"`
	Path        string `db:"path" json:"path"`
	Prefix      string `db:"prefix" json:"prefix"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Scan is one scanner's execution within a Check.
// Unique on (check_id, scan_name).
// Maps to: security_scan table
type Scan struct {
	ID      int64 `db:"id" json:"id"`
	CheckID int64 `db:"check_id" json:"check_id"`

	// Component name of the scan within the workflow config
	ScanName string     `db:"scan_name" json:"scan_name"`
	Status   ScanStatus `db:"status" json:"status"`

	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	// Raw scanner response, persisted for auditability
	Response json.RawMessage `db:"response" json:"response,omitempty"`

	// Map of output component name to the external test id in the
	// third-party service, e.g. {"defectdojo": 42}
	OutputsTestID map[string]any `db:"outputs_test_id" json:"outputs_test_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is the delivery state of one scan result to one channel.
// Unique on (scan_id, channel).
// Maps to: security_notification table
type Notification struct {
	ID     int64 `db:"id" json:"id"`
	ScanID int64 `db:"scan_id" json:"scan_id"`

	Channel string          `db:"channel" json:"channel"`
	IsSent  bool            `db:"is_sent" json:"is_sent"`
	Payload json.RawMessage `db:"payload" json:"payload"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
