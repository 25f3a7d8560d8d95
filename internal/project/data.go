package project

import (
	"fmt"
	"time"

	"github.com/sitescope/engine/pkg/failure"
)

/*
Responsibilities
- Model one tracked site as a named workspace on disk
- Own the directories a crawl, a test run, and the issue register live under
- Guarantee a project's slug is unique and stable for its lifetime

A Project never owns snapshot or result content directly; it only owns
the directory layout those packages write into.
*/

// Project is one tracked site.
type Project struct {
	Slug        string    `json:"slug"`
	RootURL     string    `json:"root_url"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

type ErrorCause string

const (
	ErrCauseAlreadyExists ErrorCause = "project already exists"
	ErrCauseNotFound      ErrorCause = "project not found"
	ErrCauseLockHeld      ErrorCause = "project already locked by another writer"
	ErrCauseInvalidURL    ErrorCause = "root url is invalid"
	ErrCauseIOFailure     ErrorCause = "project workspace io failure"
)

// Error is the classified error type every project-workspace operation
// returns, in the teacher's Retryable/Severity idiom.
type Error struct {
	Message   string
	Retryable bool
	Cause     ErrorCause
}

func (e *Error) Error() string {
	return fmt.Sprintf("project error: %s: %s", e.Cause, e.Message)
}

func (e *Error) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
