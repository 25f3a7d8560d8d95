package assets

import (
	"fmt"

	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/internal/metadata"
)

type AssetsErrorCause string

const (
	ErrCauseImageDownloadFailure = "failed to download image"
	ErrCauseHashError            = "failed to hash asset content"
	ErrCauseWriteFailure         = "failed to write asset to disk"
	ErrCausePathError            = "invalid or unresolvable asset path"
	ErrCauseNetworkFailure       = "network failure while fetching asset"
	ErrCauseAssetTooLarge        = "asset exceeds configured size limit"
	ErrCauseRequest5xx           = "asset host returned server error"
	ErrCauseRequestTooMany       = "asset host rate limited the request"
	ErrCauseRequestPageForbidden = "asset request forbidden"
	ErrCauseRedirectLimitExceeded = "too many redirects fetching asset"
	ErrCauseReadResponseBodyError = "failed to read asset response body"
	ErrCauseDiskFull              = "disk full while writing asset"
)

type AssetsError struct {
	Message   string
	Retryable bool
	Cause     AssetsErrorCause
}

func (e *AssetsError) Error() string {
	return fmt.Sprintf("assets error: %s", e.Cause)
}

func (e *AssetsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapAssetsErrorToMetadataCause maps assets-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapAssetsErrorToMetadataCause(err AssetsError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseImageDownloadFailure, ErrCauseNetworkFailure, ErrCauseRequest5xx,
		ErrCauseRequestTooMany, ErrCauseRequestPageForbidden, ErrCauseRedirectLimitExceeded,
		ErrCauseReadResponseBodyError:
		return metadata.CauseNetworkFailure
	case ErrCauseWriteFailure, ErrCauseDiskFull, ErrCausePathError:
		return metadata.CauseStorageFailure
	case ErrCauseHashError:
		return metadata.CauseInvariantViolation
	case ErrCauseAssetTooLarge:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
