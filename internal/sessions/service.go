package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumehq/lume/internal/ids"
	"github.com/lumehq/lume/internal/patients"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreate       = "sessions.create"
	opReschedule   = "sessions.reschedule"
	opResync       = "sessions.resync"
	opGet          = "sessions.get"
	opListUpcoming = "sessions.list_upcoming"
	opListResync   = "sessions.list_for_resync"
	opMarkStatus   = "sessions.mark_status"

	fieldPractitionerID = "practitioner_id"
	fieldSessionID      = "session_id"
	querySession        = "practitioner_id = ? AND id = ?"
	upcomingWindowDays  = 8
	unknownSyncError    = "unknown sync error"
)

var (
	// ErrSessionNotFound indicates no session with that id belongs to the practitioner.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrInvalidTimeRange indicates the session does not end after it starts.
	ErrInvalidTimeRange = errors.New("sessions: ends_at must be after starts_at")
	// ErrPatientNotFound indicates the referenced patient does not belong to the practitioner.
	ErrPatientNotFound = errors.New("sessions: patient not found")

	errMissingDatabase     = errors.New("database handle is required")
	errMissingPatients     = errors.New("patient directory is required")
	errMissingPractitioner = errors.New("practitioner id is required")
	noOpLogger             = zap.NewNop()
)

// ServiceError carries an "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// PatientDirectory resolves patients owned by a practitioner.
type PatientDirectory interface {
	Get(ctx context.Context, practitionerID, patientID string) (patients.Patient, error)
}

// SyncTrigger schedules an external calendar sync for a persisted session.
// Implementations must not block on the sync itself.
type SyncTrigger interface {
	TriggerSync(practitionerID string, session Session)
}

type noopTrigger struct{}

func (noopTrigger) TriggerSync(string, Session) {}

// ServiceConfig describes the dependencies of the session scheduler.
type ServiceConfig struct {
	Database   *gorm.DB
	Patients   PatientDirectory
	Trigger    SyncTrigger
	Clock      func() time.Time
	IDProvider ids.Provider
	Location   *time.Location
	Logger     *zap.Logger
}

// Service schedules sessions and persists their calendar sync state.
type Service struct {
	db         *gorm.DB
	patients   PatientDirectory
	trigger    SyncTrigger
	clock      func() time.Time
	idProvider ids.Provider
	location   *time.Location
	logger     *zap.Logger
}

// NewService constructs the session scheduler.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("sessions.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.Patients == nil {
		return nil, newServiceError("sessions.service.new", "missing_patients", errMissingPatients)
	}
	trigger := cfg.Trigger
	if trigger == nil {
		trigger = noopTrigger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		patients:   cfg.Patients,
		trigger:    trigger,
		clock:      clock,
		idProvider: idProvider,
		location:   location,
		logger:     logger,
	}, nil
}

// SetTrigger replaces the sync trigger. A nil trigger detaches syncing.
func (s *Service) SetTrigger(trigger SyncTrigger) {
	if trigger == nil {
		trigger = noopTrigger{}
	}
	s.trigger = trigger
}

// Create inserts a session in pending sync state and schedules its calendar sync.
// A failing sync is recorded on the session later and never fails creation.
func (s *Service) Create(ctx context.Context, practitionerID string, input CreateInput) (Session, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return Session{}, newServiceError(opCreate, "missing_practitioner", errMissingPractitioner)
	}
	if !input.EndsAt.After(input.StartsAt) {
		return Session{}, ErrInvalidTimeRange
	}

	patient, err := s.patients.Get(ctx, practitionerID, input.PatientID)
	if errors.Is(err, patients.ErrPatientNotFound) {
		return Session{}, ErrPatientNotFound
	}
	if err != nil {
		s.logError(opCreate, "patient_lookup_failed", err, zap.String(fieldPractitionerID, practitionerID))
		return Session{}, newServiceError(opCreate, "patient_lookup_failed", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String(fieldPractitionerID, practitionerID))
		return Session{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	price := input.PriceCents
	if price == nil {
		price = patient.DefaultPriceCents
	}

	now := s.clock().UTC()
	session := Session{
		ID:             id,
		PractitionerID: practitionerID,
		PatientID:      patient.ID,
		StartsAt:       input.StartsAt.UTC(),
		EndsAt:         input.EndsAt.UTC(),
		Status:         StatusScheduled,
		PaymentStatus:  PaymentPending,
		PriceCents:     price,
		SyncStatus:     SyncStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreate, "insert_failed", err,
			zap.String(fieldPractitionerID, practitionerID),
			zap.String(fieldSessionID, id))
		return Session{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.trigger.TriggerSync(practitionerID, session)
	return session, nil
}

// Reschedule moves the session and re-syncs the calendar event.
func (s *Service) Reschedule(ctx context.Context, practitionerID, sessionID string, startsAt, endsAt time.Time) (Session, error) {
	if !endsAt.After(startsAt) {
		return Session{}, ErrInvalidTimeRange
	}
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where(querySession, practitionerID, sessionID).
		Updates(map[string]interface{}{
			"starts_at":  startsAt.UTC(),
			"ends_at":    endsAt.UTC(),
			"updated_at": s.clock().UTC(),
		})
	if result.Error != nil {
		s.logError(opReschedule, "update_failed", result.Error, zap.String(fieldSessionID, sessionID))
		return Session{}, newServiceError(opReschedule, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Session{}, ErrSessionNotFound
	}
	if err := s.MarkPending(ctx, sessionID); err != nil {
		return Session{}, err
	}

	session, err := s.Get(ctx, practitionerID, sessionID)
	if err != nil {
		return Session{}, err
	}
	s.trigger.TriggerSync(practitionerID, session)
	return session, nil
}

// Resync moves the session back to pending and schedules another calendar sync.
func (s *Service) Resync(ctx context.Context, practitionerID, sessionID string) (Session, error) {
	session, err := s.Get(ctx, practitionerID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := s.MarkPending(ctx, sessionID); err != nil {
		s.logError(opResync, "mark_pending_failed", err, zap.String(fieldSessionID, sessionID))
		return Session{}, newServiceError(opResync, "mark_pending_failed", err)
	}
	session.SyncStatus = SyncStatusPending
	session.SyncError = nil
	s.trigger.TriggerSync(practitionerID, session)
	return session, nil
}

// Get loads one session owned by the practitioner.
func (s *Service) Get(ctx context.Context, practitionerID, sessionID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where(querySession, practitionerID, sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String(fieldSessionID, sessionID))
		return Session{}, newServiceError(opGet, "query_failed", err)
	}
	return session, nil
}

// ListUpcoming returns sessions from the start of today until eight days later, in the
// practitioner's calendar time zone, ordered by start time.
func (s *Service) ListUpcoming(ctx context.Context, practitionerID string) ([]UpcomingSession, error) {
	now := s.clock().In(s.location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	to := from.AddDate(0, 0, upcomingWindowDays)

	var rows []Session
	if err := s.db.WithContext(ctx).
		Where("practitioner_id = ? AND starts_at >= ? AND starts_at < ?", practitionerID, from.UTC(), to.UTC()).
		Order("starts_at ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListUpcoming, "query_failed", err, zap.String(fieldPractitionerID, practitionerID))
		return nil, newServiceError(opListUpcoming, "query_failed", err)
	}

	names := make(map[string]string, len(rows))
	upcoming := make([]UpcomingSession, 0, len(rows))
	for _, row := range rows {
		name, ok := names[row.PatientID]
		if !ok {
			patient, err := s.patients.Get(ctx, practitionerID, row.PatientID)
			if err != nil && !errors.Is(err, patients.ErrPatientNotFound) {
				s.logError(opListUpcoming, "patient_lookup_failed", err, zap.String(fieldSessionID, row.ID))
				return nil, newServiceError(opListUpcoming, "patient_lookup_failed", err)
			}
			name = patient.FullName
			names[row.PatientID] = name
		}
		upcoming = append(upcoming, UpcomingSession{Session: row, PatientName: name})
	}
	return upcoming, nil
}

// ListForResync returns sessions in any of the given sync states, optionally for one practitioner.
func (s *Service) ListForResync(ctx context.Context, statuses []SyncStatus, practitionerID string) ([]Session, error) {
	query := s.db.WithContext(ctx).Where("status = ?", StatusScheduled)
	if len(statuses) > 0 {
		query = query.Where("sync_status IN ?", statuses)
	}
	if strings.TrimSpace(practitionerID) != "" {
		query = query.Where("practitioner_id = ?", practitionerID)
	}
	var rows []Session
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		s.logError(opListResync, "query_failed", err)
		return nil, newServiceError(opListResync, "query_failed", err)
	}
	return rows, nil
}

// MarkPending clears any previous sync error ahead of a new attempt.
func (s *Service) MarkPending(ctx context.Context, sessionID string) error {
	return s.updateSyncState(ctx, sessionID, map[string]interface{}{
		"sync_status": SyncStatusPending,
		"sync_error":  nil,
	})
}

// MarkSynced records a successful calendar sync.
func (s *Service) MarkSynced(ctx context.Context, sessionID string, at time.Time) error {
	syncedAt := at.UTC()
	return s.updateSyncState(ctx, sessionID, map[string]interface{}{
		"sync_status":  SyncStatusSynced,
		"sync_error":   nil,
		"last_sync_at": &syncedAt,
	})
}

// MarkFailed records a failed calendar sync; an empty message is replaced so the error
// status always carries one.
func (s *Service) MarkFailed(ctx context.Context, sessionID, message string, at time.Time) error {
	failedAt := at.UTC()
	detail := strings.TrimSpace(message)
	if detail == "" {
		detail = unknownSyncError
	}
	return s.updateSyncState(ctx, sessionID, map[string]interface{}{
		"sync_status":  SyncStatusError,
		"sync_error":   &detail,
		"last_sync_at": &failedAt,
	})
}

func (s *Service) updateSyncState(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	updates["updated_at"] = s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).Updates(updates)
	if result.Error != nil {
		s.logError(opMarkStatus, "update_failed", result.Error, zap.String(fieldSessionID, sessionID))
		return newServiceError(opMarkStatus, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sessions service error", attrs...)
}
