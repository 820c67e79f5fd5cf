package calendarsync

import (
	"time"

	"github.com/lumehq/lume/internal/sessions"
)

const (
	// ProviderGoogle is the only external calendar provider.
	ProviderGoogle = "google"
	// SessionIDProperty is the private extended property carrying the session id on events.
	SessionIDProperty = "lumeSessionId"
)

// CalendarIntegration holds a practitioner's external calendar credential.
type CalendarIntegration struct {
	PractitionerID string    `gorm:"column:practitioner_id;primaryKey;size:190;not null"`
	Provider       string    `gorm:"column:provider;primaryKey;size:32;not null"`
	RefreshToken   string    `gorm:"column:refresh_token;type:text;not null" json:"-"`
	Scope          string    `gorm:"column:scope;type:text"`
	CalendarID     *string   `gorm:"column:calendar_id;size:255"`
	TokenUpdatedAt time.Time `gorm:"column:token_updated_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CalendarIntegration) TableName() string {
	return "calendar_integrations"
}

// EventMapping links a session to the external event created for it.
type EventMapping struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PractitionerID string    `gorm:"column:practitioner_id;size:190;not null;uniqueIndex:idx_event_map_session,priority:1"`
	SessionID      string    `gorm:"column:session_id;size:64;not null;uniqueIndex:idx_event_map_session,priority:2"`
	Provider       string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_event_map_session,priority:3"`
	GoogleEventID  string    `gorm:"column:google_event_id;size:1024;not null"`
	CalendarID     string    `gorm:"column:calendar_id;size:255;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventMapping) TableName() string {
	return "calendar_event_map"
}

// SessionSnapshot is the session data a sync works from. PatientName is filled by the
// orchestrator before the event is written.
type SessionSnapshot struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"practitionerId"`
	PatientID      string    `json:"patientId"`
	StartsAt       time.Time `json:"startsAt"`
	EndsAt         time.Time `json:"endsAt"`
	PatientName    string    `json:"patientName,omitempty"`
}

// SnapshotOf copies the fields a sync needs from a persisted session.
func SnapshotOf(session sessions.Session) SessionSnapshot {
	return SessionSnapshot{
		ID:             session.ID,
		PractitionerID: session.PractitionerID,
		PatientID:      session.PatientID,
		StartsAt:       session.StartsAt,
		EndsAt:         session.EndsAt,
	}
}

// CalendarSpec describes a calendar to create.
type CalendarSpec struct {
	Summary     string
	Description string
	TimeZone    string
}

// EventBody is the provider-neutral content of a calendar event.
type EventBody struct {
	Summary           string
	Description       string
	StartsAt          time.Time
	EndsAt            time.Time
	PrivateProperties map[string]string
}

// SyncOutcome reports the terminal state of one sync invocation.
type SyncOutcome struct {
	SessionID  string
	Status     sessions.SyncStatus
	EventID    string
	CalendarID string
	Error      string
	At         time.Time
}
