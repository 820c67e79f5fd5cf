package calendarsync

import (
	"errors"
	"fmt"
)

// ErrIntegrationMissing indicates the practitioner has not connected a calendar.
var ErrIntegrationMissing = errors.New("calendarsync: integration missing")

// ExternalClass classifies failures reported by the external calendar.
type ExternalClass string

const (
	ExternalNotFound         ExternalClass = "not_found"
	ExternalAuthInvalid      ExternalClass = "auth_invalid"
	ExternalRateLimited      ExternalClass = "rate_limited"
	ExternalTransientNetwork ExternalClass = "transient_network"
	ExternalOther            ExternalClass = "other"
)

// ExternalError wraps a failed external calendar call with its classification.
type ExternalError struct {
	Class     ExternalClass
	Operation string
	Err       error
}

func (e *ExternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Operation, e.Class)
	}
	return fmt.Sprintf("%s: %s: %v", e.Operation, e.Class, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// ClassOf returns the classification of err, or ExternalOther when err carries none.
func ClassOf(err error) ExternalClass {
	var externalErr *ExternalError
	if errors.As(err, &externalErr) {
		return externalErr.Class
	}
	return ExternalOther
}

// SyncErrorKind enumerates the ways one sync can fail.
type SyncErrorKind string

const (
	KindIntegrationMissing  SyncErrorKind = "integration_missing"
	KindExternalNotFound    SyncErrorKind = "external_not_found"
	KindExternalTransient   SyncErrorKind = "external_transient"
	KindExternalFailure     SyncErrorKind = "external_failure"
	KindPatientLookupFailed SyncErrorKind = "patient_lookup_failed"
	KindStorageFailure      SyncErrorKind = "storage_failure"
)

// SyncError is the typed failure recorded on a session. Its Error text is what the
// practitioner sees in sync_error.
type SyncError struct {
	Kind   SyncErrorKind
	Detail string
	Err    error
}

func (e *SyncError) Error() string {
	switch e.Kind {
	case KindIntegrationMissing:
		return "google calendar not connected"
	case KindPatientLookupFailed:
		return "failed to load patient: " + e.detail()
	default:
		return e.detail()
	}
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) detail() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func newSyncError(kind SyncErrorKind, detail string, cause error) *SyncError {
	return &SyncError{Kind: kind, Detail: detail, Err: cause}
}

// externalSyncError maps an external calendar failure onto a sync error kind.
func externalSyncError(err error) *SyncError {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	switch ClassOf(err) {
	case ExternalNotFound:
		return newSyncError(KindExternalNotFound, err.Error(), err)
	case ExternalRateLimited, ExternalTransientNetwork:
		return newSyncError(KindExternalTransient, err.Error(), err)
	default:
		return newSyncError(KindExternalFailure, err.Error(), err)
	}
}
