package sanitizer

import (
	"fmt"

	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/internal/metadata"
)

type SanitizationErrorCause string

const (
	ErrCauseBrokenDOM           SanitizationErrorCause = "broken dom"
	ErrCauseUnparseableHTML     SanitizationErrorCause = "html cannot be parsed"
	ErrCauseCompetingRoots      SanitizationErrorCause = "multiple competing document roots"
	ErrCauseNoStructuralAnchor  SanitizationErrorCause = "no headings or structural anchors found"
	ErrCauseMultipleH1NoRoot    SanitizationErrorCause = "multiple h1 elements without a provable primary root"
	ErrCauseImpliedMultipleDocs SanitizationErrorCause = "document structure implies multiple documents"
	ErrCauseAmbiguousDOM        SanitizationErrorCause = "structurally ambiguous dom"
)

type SanitizationError struct {
	Message   string
	Retryable bool
	Cause     SanitizationErrorCause
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("sanitization error: %s", e.Cause)
}

func (e *SanitizationError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapSanitizationErrorToMetadataCause maps sanitizer-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapSanitizationErrorToMetadataCause(err SanitizationError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseBrokenDOM, ErrCauseUnparseableHTML, ErrCauseCompetingRoots,
		ErrCauseNoStructuralAnchor, ErrCauseMultipleH1NoRoot,
		ErrCauseImpliedMultipleDocs, ErrCauseAmbiguousDOM:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
