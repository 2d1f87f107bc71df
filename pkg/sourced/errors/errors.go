// Package errors provides the error taxonomy for the aggregate and
// projection pipeline, plus categorization and retry strategies.
//
// Errors fall into three handling classes:
//   - structural errors (bad arguments, missing features, duplicate
//     registrations) surface immediately and are never retried
//   - consistency errors (version conflicts, snapshot mismatches, missing
//     upcasters) fail the operation but are recoverable by reloading
//   - transient errors (network, timeout, database) are the only class the
//     retry strategy acts on
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and propagation decisions.
type Kind int

const (
	// KindUnknown is the zero value; unknown errors are treated as permanent.
	KindUnknown Kind = iota

	// KindInvalidArguments indicates a programmer error in a call.
	KindInvalidArguments

	// KindVersionConflict indicates an optimistic concurrency violation.
	KindVersionConflict

	// KindFeatureNotEnabled indicates use of a feature that was never enabled.
	KindFeatureNotEnabled

	// KindMethodNotImplemented indicates a required hook was not supplied.
	KindMethodNotImplemented

	// KindIDMismatch indicates a snapshot restore against the wrong aggregate.
	KindIDMismatch

	// KindTypeMismatch indicates a snapshot or event of the wrong aggregate type.
	KindTypeMismatch

	// KindDuplicateUpcaster indicates a second upcaster for the same step.
	KindDuplicateUpcaster

	// KindMissingUpcaster indicates a gap in an upcaster chain.
	KindMissingUpcaster

	// KindProcessingFailed wraps a projection apply/persist failure.
	KindProcessingFailed

	// KindStateNotFound indicates projection state missing from its store.
	KindStateNotFound

	// KindCapabilityNotAttached indicates use of a capability that is absent.
	KindCapabilityNotAttached

	// KindCircuitOpen indicates the circuit breaker rejected the event.
	KindCircuitOpen

	// KindNetwork marks transient network failures from stores.
	KindNetwork

	// KindTimeout marks deadline or I/O timeout failures.
	KindTimeout

	// KindDatabase marks transient database failures.
	KindDatabase

	// KindValidation marks payload validation failures; never retryable.
	KindValidation
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidArguments:
		return "invalid_arguments"
	case KindVersionConflict:
		return "version_conflict"
	case KindFeatureNotEnabled:
		return "feature_not_enabled"
	case KindMethodNotImplemented:
		return "method_not_implemented"
	case KindIDMismatch:
		return "id_mismatch"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindDuplicateUpcaster:
		return "duplicate_upcaster"
	case KindMissingUpcaster:
		return "missing_upcaster"
	case KindProcessingFailed:
		return "processing_failed"
	case KindStateNotFound:
		return "state_not_found"
	case KindCapabilityNotAttached:
		return "capability_not_attached"
	case KindCircuitOpen:
		return "circuit_open"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindDatabase:
		return "database"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the common error record for the pipeline. Concrete wrapper types
// below add structured context; all of them unwrap to an Error so callers
// can branch on Kind with a single errors.As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind carried by err, or KindUnknown.
// It inspects the wrap chain, so callers never need to know the concrete
// wrapper type.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	var vc *VersionConflictError
	if stderrors.As(err, &vc) {
		return KindVersionConflict
	}
	var du *DuplicateUpcasterError
	if stderrors.As(err, &du) {
		return KindDuplicateUpcaster
	}
	var mu *MissingUpcasterError
	if stderrors.As(err, &mu) {
		return KindMissingUpcaster
	}
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return KindProcessingFailed
	}
	var bo *BreakerOpenError
	if stderrors.As(err, &bo) {
		return KindCircuitOpen
	}
	var sm *SnapshotMismatchError
	if stderrors.As(err, &sm) {
		return sm.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// VersionConflictError reports an optimistic concurrency violation on an
// aggregate. Current is the aggregate's committed baseline version.
type VersionConflictError struct {
	AggregateType string
	AggregateID   string
	Current       int64
	Expected      int64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: current %d, expected %d",
		e.AggregateType, e.AggregateID, e.Current, e.Expected)
}

// DuplicateUpcasterError reports a second upcaster registration for the same
// (event type, source version) pair.
type DuplicateUpcasterError struct {
	EventType     string
	SourceVersion int
}

// Error implements the error interface.
func (e *DuplicateUpcasterError) Error() string {
	return fmt.Sprintf("duplicate upcaster for %s v%d", e.EventType, e.SourceVersion)
}

// MissingUpcasterError reports a gap in an upcaster chain. From is the
// version the chain got stuck at; To is the version it needed to reach.
type MissingUpcasterError struct {
	EventType string
	From      int
	To        int
}

// Error implements the error interface.
func (e *MissingUpcasterError) Error() string {
	return fmt.Sprintf("missing upcaster for %s: no step from v%d toward v%d", e.EventType, e.From, e.To)
}

// SnapshotMismatchError reports a snapshot restore attempted against the
// wrong aggregate. Kind is KindIDMismatch or KindTypeMismatch.
type SnapshotMismatchError struct {
	Kind Kind
	Want string
	Got  string
}

// Error implements the error interface.
func (e *SnapshotMismatchError) Error() string {
	return fmt.Sprintf("snapshot %s: want %q, got %q", e.Kind, e.Want, e.Got)
}

// ProcessingError wraps a failure inside the projection pipeline with enough
// context to log or dead-letter it without re-deriving anything.
type ProcessingError struct {
	Projection string
	EventType  string
	EventID    string
	Attempt    int
	Err        error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("projection %s failed on %s (event %s, attempt %d): %v",
		e.Projection, e.EventType, e.EventID, e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// BreakerOpenError reports an event rejected by an open circuit breaker.
type BreakerOpenError struct {
	Projection string
	RetryIn    time.Duration
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for projection %s (retry in %s)", e.Projection, e.RetryIn)
}

// AttemptCount extracts the attempt count from a processing error chain.
// Returns 0 when the error carries no attempt information.
func AttemptCount(err error) int {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Attempt
	}
	return 0
}
