package failure

import (
	"fmt"

	"github.com/google/uuid"
)

type Severity int

// scheduler control flow
const (
	SeverityFatal Severity = iota
	SeverityRecoverable
)

type ClassifiedError interface {
	error
	Severity() Severity
}

// InternalError wraps an unexpected invariant violation with a
// correlation id, so an operator can match a CLI-reported failure back
// to whatever structured logging was emitted for the same id.
type InternalError struct {
	CorrelationID string
	Cause         error
}

// NewInternalError stamps err with a fresh correlation id.
func NewInternalError(cause error) *InternalError {
	return &InternalError{CorrelationID: uuid.NewString(), Cause: cause}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.CorrelationID, e.Cause)
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

func (e *InternalError) Severity() Severity {
	return SeverityFatal
}
