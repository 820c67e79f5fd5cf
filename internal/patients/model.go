package patients

import "time"

// Patient is a person under care of a single practitioner.
type Patient struct {
	ID                string     `gorm:"column:id;primaryKey;size:64;not null"`
	PractitionerID    string     `gorm:"column:practitioner_id;size:190;not null;index:idx_patients_practitioner_name,priority:1"`
	FullName          string     `gorm:"column:full_name;size:320;not null;index:idx_patients_practitioner_name,priority:2"`
	DefaultPriceCents *int64     `gorm:"column:default_price_cents"`
	ArchivedAt        *time.Time `gorm:"column:archived_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Patient) TableName() string {
	return "patients"
}

// Archived reports whether the patient was archived.
func (p Patient) Archived() bool {
	return p.ArchivedAt != nil
}

// CreateInput carries the fields accepted when registering a patient.
type CreateInput struct {
	FullName          string
	DefaultPriceCents *int64
}
