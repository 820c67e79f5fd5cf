package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const queryMapping = "practitioner_id = ? AND session_id = ? AND provider = ?"

// EventMapStore persists session to external event mappings.
type EventMapStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewEventMapStore constructs an EventMapStore.
func NewEventMapStore(cfg StoreConfig) (*EventMapStore, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &EventMapStore{db: normalized.Database, clock: normalized.Clock, logger: normalized.Logger}, nil
}

// Find returns the mapping for the session, if any.
func (s *EventMapStore) Find(ctx context.Context, practitionerID, sessionID, provider string) (EventMapping, bool, error) {
	var mapping EventMapping
	err := s.db.WithContext(ctx).Where(queryMapping, practitionerID, sessionID, provider).Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EventMapping{}, false, nil
	}
	if err != nil {
		return EventMapping{}, false, fmt.Errorf("calendarsync: find mapping: %w", err)
	}
	return mapping, true, nil
}

// InsertIfAbsent inserts mapping unless one already exists for the session. It returns the
// surviving row and whether this call created it; losing the race is not an error.
func (s *EventMapStore) InsertIfAbsent(ctx context.Context, mapping EventMapping) (EventMapping, bool, error) {
	now := s.clock().UTC()
	mapping.ID = 0
	mapping.CreatedAt = now
	mapping.UpdatedAt = now

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "practitioner_id"}, {Name: "session_id"}, {Name: "provider"}},
		DoNothing: true,
	}).Create(&mapping)
	if result.Error != nil {
		return EventMapping{}, false, fmt.Errorf("calendarsync: insert mapping: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return mapping, true, nil
	}

	existing, found, err := s.Find(ctx, mapping.PractitionerID, mapping.SessionID, mapping.Provider)
	if err != nil {
		return EventMapping{}, false, err
	}
	if !found {
		return EventMapping{}, false, fmt.Errorf("calendarsync: mapping conflict without surviving row for session %s", mapping.SessionID)
	}
	return existing, false, nil
}

// Touch records that the mapped event was written again, possibly on another calendar.
func (s *EventMapStore) Touch(ctx context.Context, mapping EventMapping, calendarID string) error {
	err := s.db.WithContext(ctx).Model(&EventMapping{}).
		Where(queryMapping, mapping.PractitionerID, mapping.SessionID, mapping.Provider).
		Updates(map[string]interface{}{
			"calendar_id": calendarID,
			"updated_at":  s.clock().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("calendarsync: touch mapping: %w", err)
	}
	return nil
}
