package resultstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitescope/engine/pkg/failure"
)

/*
Responsibilities
- Persist one TestResult per analyzer invocation, append-only
- List and fetch results for a project without mutating anything
- Compute a structural diff between two results for the issue tracker

A TestResult is immutable once written: the store has no update path,
only append (Write) and read (List, Latest).
*/

type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Finding is the raw material TestResult.Details carries for the issue
// tracker to fingerprint and promote; it is never persisted on its own.
type Finding struct {
	URL         string            `json:"url"`
	Category    string            `json:"category"`
	Severity    string            `json:"severity,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location,omitempty"`
	Evidence    string            `json:"evidence,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
	SiteWide    bool              `json:"site_wide,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// TestResult is one analyzer invocation's immutable outcome.
type TestResult struct {
	PluginName string    `json:"plugin_name"`
	SnapshotID string    `json:"snapshot_id"`
	StartedAt  time.Time `json:"started_at"`
	Status     Status    `json:"status"`
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings"`
}

type ErrorCause string

const (
	ErrCauseIOFailure   ErrorCause = "result store io failure"
	ErrCauseNotFound    ErrorCause = "result not found"
	ErrCauseCorruptFile ErrorCause = "result file is not valid json"
)

type Error struct {
	Message   string
	Retryable bool
	Cause     ErrorCause
}

func (e *Error) Error() string {
	return fmt.Sprintf("resultstore error: %s: %s", e.Cause, e.Message)
}

func (e *Error) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// Diff is what Compare returns: findings present in b but not a
// (added), present in a but not b (removed), and the status/summary
// delta.
type Diff struct {
	StatusChanged   bool      `json:"status_changed"`
	PreviousStatus  Status    `json:"previous_status"`
	CurrentStatus   Status    `json:"current_status"`
	AddedFindings   []Finding `json:"added_findings"`
	RemovedFindings []Finding `json:"removed_findings"`
}

func findingKey(f Finding) string {
	b, _ := json.Marshal(f)
	return string(b)
}
