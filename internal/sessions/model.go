package sessions

import "time"

// SyncStatus tracks the external calendar synchronization state of a session.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// ParseSyncStatus validates a raw status value.
func ParseSyncStatus(raw string) (SyncStatus, bool) {
	switch SyncStatus(raw) {
	case SyncStatusPending, SyncStatusSynced, SyncStatusError:
		return SyncStatus(raw), true
	default:
		return "", false
	}
}

// Status is the scheduling state of a session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCanceled  Status = "canceled"
)

// PaymentStatus records whether the session was paid for.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentCourtesy PaymentStatus = "courtesy"
)

// Session is a scheduled therapy appointment.
//
// SyncStatus, SyncError and LastSyncAt are written only through MarkPending, MarkSynced and
// MarkFailed so that an error status always carries a message and a synced status never does.
type Session struct {
	ID             string        `gorm:"column:id;primaryKey;size:64;not null"`
	PractitionerID string        `gorm:"column:practitioner_id;size:190;not null;index:idx_sessions_practitioner_start,priority:1"`
	PatientID      string        `gorm:"column:patient_id;size:64;not null;index"`
	StartsAt       time.Time     `gorm:"column:starts_at;not null;index:idx_sessions_practitioner_start,priority:2"`
	EndsAt         time.Time     `gorm:"column:ends_at;not null"`
	Status         Status        `gorm:"column:status;size:16;not null;default:scheduled"`
	PaymentStatus  PaymentStatus `gorm:"column:payment_status;size:16;not null;default:pending"`
	PriceCents     *int64        `gorm:"column:price_cents"`
	SyncStatus     SyncStatus    `gorm:"column:sync_status;size:16;not null;default:pending;index"`
	SyncError      *string       `gorm:"column:sync_error;type:text"`
	LastSyncAt     *time.Time    `gorm:"column:last_sync_at"`
	CreatedAt      time.Time     `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// CreateInput carries the fields accepted when scheduling a session.
type CreateInput struct {
	PatientID  string
	StartsAt   time.Time
	EndsAt     time.Time
	PriceCents *int64
}

// UpcomingSession pairs a session with the patient's display name.
type UpcomingSession struct {
	Session
	PatientName string
}
