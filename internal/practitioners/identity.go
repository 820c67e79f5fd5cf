package practitioners

import (
	"strings"
	"time"
)

// Identity maps a provider-specific login onto the canonical practitioner id.
type Identity struct {
	Provider       string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject        string    `gorm:"column:subject;primaryKey;size:190;not null"`
	PractitionerID string    `gorm:"column:practitioner_id;size:190;not null;index"`
	Email          string    `gorm:"column:email;size:320"`
	DisplayName    string    `gorm:"column:display_name;size:320"`
	LastSeenAt     time.Time `gorm:"column:last_seen_at"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing practitioner identities.
func (Identity) TableName() string {
	return "practitioner_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
