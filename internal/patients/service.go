package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumehq/lume/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minimumNameLength  = 2
	defaultActiveLimit = 50
	queryPractitioner  = "practitioner_id = ?"
	queryPatient       = "practitioner_id = ? AND id = ?"
	orderByName        = "full_name ASC"
)

var (
	// ErrPatientNotFound indicates the patient does not exist for the practitioner.
	ErrPatientNotFound = errors.New("patients: patient not found")
	// ErrNameTooShort indicates the trimmed full name is shorter than two characters.
	ErrNameTooShort = errors.New("patients: name too short")
	// ErrInvalidPrice indicates a negative default price.
	ErrInvalidPrice = errors.New("patients: invalid default price")

	errMissingDatabase     = errors.New("patients: database handle is required")
	errMissingPractitioner = errors.New("patients: practitioner id is required")
)

// ServiceConfig describes the dependencies of the patient registry.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages patient records.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the patient registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Create registers a new patient for the practitioner.
func (s *Service) Create(ctx context.Context, practitionerID string, input CreateInput) (Patient, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return Patient{}, errMissingPractitioner
	}
	name := strings.TrimSpace(input.FullName)
	if len([]rune(name)) < minimumNameLength {
		return Patient{}, ErrNameTooShort
	}
	if input.DefaultPriceCents != nil && *input.DefaultPriceCents < 0 {
		return Patient{}, ErrInvalidPrice
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Patient{}, fmt.Errorf("patients: id generation failed: %w", err)
	}
	now := s.clock().UTC()
	patient := Patient{
		ID:                id,
		PractitionerID:    practitionerID,
		FullName:          name,
		DefaultPriceCents: input.DefaultPriceCents,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(&patient).Error; err != nil {
		s.logger.Error("patient insert failed", zap.String("practitioner_id", practitionerID), zap.Error(err))
		return Patient{}, fmt.Errorf("patients: insert failed: %w", err)
	}
	return patient, nil
}

// List returns the practitioner's patients ordered by name.
func (s *Service) List(ctx context.Context, practitionerID string, includeArchived bool) ([]Patient, error) {
	query := s.db.WithContext(ctx).Where(queryPractitioner, practitionerID)
	if !includeArchived {
		query = query.Where("archived_at IS NULL")
	}
	var patients []Patient
	if err := query.Order(orderByName).Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("patients: list failed: %w", err)
	}
	return patients, nil
}

// ListActive returns at most limit non-archived patients, used to populate scheduling pickers.
func (s *Service) ListActive(ctx context.Context, practitionerID string, limit int) ([]Patient, error) {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	var patients []Patient
	if err := s.db.WithContext(ctx).
		Where(queryPractitioner, practitionerID).
		Where("archived_at IS NULL").
		Order(orderByName).
		Limit(limit).
		Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("patients: list active failed: %w", err)
	}
	return patients, nil
}

// Get loads one patient owned by the practitioner.
func (s *Service) Get(ctx context.Context, practitionerID, patientID string) (Patient, error) {
	var patient Patient
	err := s.db.WithContext(ctx).Where(queryPatient, practitionerID, patientID).Take(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return Patient{}, fmt.Errorf("patients: lookup failed: %w", err)
	}
	return patient, nil
}

// DisplayName resolves the name shown on calendar events for the patient.
func (s *Service) DisplayName(ctx context.Context, practitionerID, patientID string) (string, error) {
	patient, err := s.Get(ctx, practitionerID, patientID)
	if err != nil {
		return "", err
	}
	return patient.FullName, nil
}

// Archive hides the patient from active listings.
func (s *Service) Archive(ctx context.Context, practitionerID, patientID string) error {
	now := s.clock().UTC()
	return s.setArchivedAt(ctx, practitionerID, patientID, &now)
}

// Unarchive restores an archived patient.
func (s *Service) Unarchive(ctx context.Context, practitionerID, patientID string) error {
	return s.setArchivedAt(ctx, practitionerID, patientID, nil)
}

func (s *Service) setArchivedAt(ctx context.Context, practitionerID, patientID string, archivedAt *time.Time) error {
	result := s.db.WithContext(ctx).Model(&Patient{}).
		Where(queryPatient, practitionerID, patientID).
		Updates(map[string]interface{}{
			"archived_at": archivedAt,
			"updated_at":  s.clock().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("patients: archive update failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}
