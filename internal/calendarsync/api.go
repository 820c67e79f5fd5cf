package calendarsync

import (
	"context"
	"time"
)

// LookupResult tags the answer of a calendar existence probe.
type LookupResult int

const (
	LookupFound LookupResult = iota
	LookupNotFound
	LookupFailed
)

// CalendarLookup is the result of CalendarAPI.LookupCalendar. Err is set only when
// Result is LookupFailed.
type CalendarLookup struct {
	Result LookupResult
	Err    error
}

// Found reports a calendar that exists.
func Found() CalendarLookup { return CalendarLookup{Result: LookupFound} }

// NotFound reports a calendar that was deleted or never existed.
func NotFound() CalendarLookup { return CalendarLookup{Result: LookupNotFound} }

// Failed reports a probe that could not determine existence.
func Failed(err error) CalendarLookup { return CalendarLookup{Result: LookupFailed, Err: err} }

// CalendarAPI is the subset of an external calendar the sync workflow needs.
// Failures are returned as *ExternalError.
type CalendarAPI interface {
	LookupCalendar(ctx context.Context, calendarID string) CalendarLookup
	CreateCalendar(ctx context.Context, spec CalendarSpec) (string, error)
	CreateEvent(ctx context.Context, calendarID string, body EventBody) (string, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, body EventBody) (string, error)
}

// ClientFactory builds a CalendarAPI bound to one practitioner's refresh token.
type ClientFactory interface {
	ForCredential(ctx context.Context, refreshToken string) (CalendarAPI, error)
}

// PatientDirectory resolves the display name used on calendar events.
type PatientDirectory interface {
	DisplayName(ctx context.Context, practitionerID, patientID string) (string, error)
}

// SessionStatusWriter persists the sync state of sessions.
type SessionStatusWriter interface {
	MarkSynced(ctx context.Context, sessionID string, at time.Time) error
	MarkFailed(ctx context.Context, sessionID, message string, at time.Time) error
}

// StatusNotifier receives every terminal sync outcome for a practitioner.
type StatusNotifier interface {
	PublishSyncOutcome(practitionerID string, outcome SyncOutcome)
}
