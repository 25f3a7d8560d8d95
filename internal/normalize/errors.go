package normalize

import (
	"fmt"

	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/internal/metadata"
)

type NormalizationErrorCause string

const (
	ErrCauseBrokenH1Invariant      NormalizationErrorCause = "broken H1 invariant"
	ErrCauseEmptyContent           NormalizationErrorCause = "markdown content is empty"
	ErrCauseHashComputationFailed  NormalizationErrorCause = "failed to compute content or doc hash"
	ErrCauseSectionDerivationFailed NormalizationErrorCause = "failed to derive section from url"
)

type NormalizationError struct {
	Message   string
	Retryable bool
	Cause     NormalizationErrorCause
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization error: %s", e.Cause)
}

func (e *NormalizationError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapNormalizationErrorToMetadataCause maps normalize-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapNormalizationErrorToMetadataCause(err NormalizationError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseBrokenH1Invariant:
		return metadata.CauseInvariantViolation
	case ErrCauseEmptyContent:
		return metadata.CauseContentInvalid
	case ErrCauseHashComputationFailed, ErrCauseSectionDerivationFailed:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
