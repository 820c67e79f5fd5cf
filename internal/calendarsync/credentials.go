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

var (
	errMissingDatabase   = errors.New("calendarsync: database handle is required")
	errMissingCalendarID = errors.New("calendarsync: calendar id is required")
)

// StoreConfig describes the dependencies shared by the credential and event map stores.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

func (cfg StoreConfig) normalized() (StoreConfig, error) {
	if cfg.Database == nil {
		return StoreConfig{}, errMissingDatabase
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

// CredentialStore persists calendar integrations.
type CredentialStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(cfg StoreConfig) (*CredentialStore, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: normalized.Database, clock: normalized.Clock, logger: normalized.Logger}, nil
}

// Get returns the practitioner's integration for provider, or ErrIntegrationMissing.
func (s *CredentialStore) Get(ctx context.Context, practitionerID, provider string) (CalendarIntegration, error) {
	var integration CalendarIntegration
	err := s.db.WithContext(ctx).
		Where("practitioner_id = ? AND provider = ?", practitionerID, provider).
		Take(&integration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CalendarIntegration{}, ErrIntegrationMissing
	}
	if err != nil {
		return CalendarIntegration{}, fmt.Errorf("calendarsync: load integration: %w", err)
	}
	return integration, nil
}

// SaveCredential stores a fresh refresh token for the practitioner, keeping any
// previously provisioned calendar id.
func (s *CredentialStore) SaveCredential(ctx context.Context, practitionerID, refreshToken, scope string) error {
	now := s.clock().UTC()
	integration := CalendarIntegration{
		PractitionerID: practitionerID,
		Provider:       ProviderGoogle,
		RefreshToken:   refreshToken,
		Scope:          scope,
		TokenUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "practitioner_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"refresh_token", "scope", "token_updated_at", "updated_at"}),
	}).Create(&integration).Error
	if err != nil {
		s.logger.Error("calendar credential upsert failed",
			zap.String("practitioner_id", practitionerID),
			zap.Error(err))
		return fmt.Errorf("calendarsync: save credential: %w", err)
	}
	return nil
}

// SwapCalendarID stores next as the practitioner's calendar id only if the stored id still
// equals previous. When a concurrent sync already stored a different id, that id is
// returned instead so callers converge on a single calendar.
func (s *CredentialStore) SwapCalendarID(ctx context.Context, practitionerID string, previous *string, next string) (string, error) {
	if next == "" {
		return "", errMissingCalendarID
	}
	query := s.db.WithContext(ctx).Model(&CalendarIntegration{}).
		Where("practitioner_id = ? AND provider = ?", practitionerID, ProviderGoogle)
	if previous == nil {
		query = query.Where("calendar_id IS NULL")
	} else {
		query = query.Where("calendar_id = ?", *previous)
	}
	result := query.Updates(map[string]interface{}{
		"calendar_id": next,
		"updated_at":  s.clock().UTC(),
	})
	if result.Error != nil {
		return "", fmt.Errorf("calendarsync: swap calendar id: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return next, nil
	}

	current, err := s.Get(ctx, practitionerID, ProviderGoogle)
	if err != nil {
		return "", err
	}
	if current.CalendarID == nil {
		return "", fmt.Errorf("calendarsync: swap calendar id: %w", errMissingCalendarID)
	}
	if *current.CalendarID != next {
		s.logger.Warn("calendar id swap lost to concurrent sync",
			zap.String("practitioner_id", practitionerID),
			zap.String("calendar_id", *current.CalendarID),
			zap.String("discarded_calendar_id", next))
	}
	return *current.CalendarID, nil
}
