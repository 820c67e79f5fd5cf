package calendarsync

import (
	"context"
	"errors"
	"time"

	"github.com/lumehq/lume/internal/patients"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
)

const statusWriteTimeout = 5 * time.Second

var errIncompleteOrchestrator = errors.New("calendarsync: orchestrator dependencies are incomplete")

// OrchestratorConfig wires the collaborators of one session sync.
type OrchestratorConfig struct {
	Patients     PatientDirectory
	Credentials  *CredentialStore
	Provisioner  *Provisioner
	Synchronizer *Synchronizer
	Sessions     SessionStatusWriter
	Notifier     StatusNotifier
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Orchestrator runs the full sync of one session and records its outcome on the session.
type Orchestrator struct {
	patients     PatientDirectory
	credentials  *CredentialStore
	provisioner  *Provisioner
	synchronizer *Synchronizer
	sessions     SessionStatusWriter
	notifier     StatusNotifier
	clock        func() time.Time
	logger       *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. Notifier is optional.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Patients == nil || cfg.Credentials == nil || cfg.Provisioner == nil || cfg.Synchronizer == nil || cfg.Sessions == nil {
		return nil, errIncompleteOrchestrator
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		patients:     cfg.Patients,
		credentials:  cfg.Credentials,
		provisioner:  cfg.Provisioner,
		synchronizer: cfg.Synchronizer,
		sessions:     cfg.Sessions,
		notifier:     cfg.Notifier,
		clock:        clock,
		logger:       logger,
	}, nil
}

// SyncSession pushes the session to the practitioner's calendar. It never returns an
// error: every failure is recorded on the session and reported in the outcome. Nothing is
// retried within one call.
func (o *Orchestrator) SyncSession(ctx context.Context, practitionerID string, session SessionSnapshot) SyncOutcome {
	outcome := SyncOutcome{SessionID: session.ID}

	calendarID, eventID, err := o.run(ctx, practitionerID, &session)
	outcome.At = o.clock().UTC()
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err != nil {
		outcome.Status = sessions.SyncStatusError
		outcome.Error = err.Error()
		fields := []zap.Field{
			zap.String("practitioner_id", practitionerID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		}
		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			fields = append(fields, zap.String("kind", string(syncErr.Kind)))
		}
		o.logger.Warn("session sync failed", fields...)
		if markErr := o.sessions.MarkFailed(statusCtx, session.ID, outcome.Error, outcome.At); markErr != nil {
			o.logger.Error("failed to record sync failure",
				zap.String("session_id", session.ID),
				zap.Error(markErr))
		}
	} else {
		outcome.Status = sessions.SyncStatusSynced
		outcome.CalendarID = calendarID
		outcome.EventID = eventID
		o.logger.Info("session synced",
			zap.String("practitioner_id", practitionerID),
			zap.String("session_id", session.ID),
			zap.String("calendar_id", calendarID),
			zap.String("event_id", eventID))
		if markErr := o.sessions.MarkSynced(statusCtx, session.ID, outcome.At); markErr != nil {
			o.logger.Error("failed to record sync success",
				zap.String("session_id", session.ID),
				zap.Error(markErr))
		}
	}

	if o.notifier != nil {
		o.notifier.PublishSyncOutcome(practitionerID, outcome)
	}
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, practitionerID string, session *SessionSnapshot) (string, string, error) {
	name, err := o.patients.DisplayName(ctx, practitionerID, session.PatientID)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, patients.ErrPatientNotFound) {
			detail = "patient not found"
		}
		return "", "", newSyncError(KindPatientLookupFailed, detail, err)
	}
	session.PatientName = name

	credential, err := o.credentials.Get(ctx, practitionerID, ProviderGoogle)
	if errors.Is(err, ErrIntegrationMissing) {
		return "", "", newSyncError(KindIntegrationMissing, "", err)
	}
	if err != nil {
		return "", "", newSyncError(KindStorageFailure, err.Error(), err)
	}

	api, calendarID, err := o.provisioner.EnsureCalendar(ctx, credential, credential.CalendarID)
	if err != nil {
		return "", "", externalSyncError(err)
	}
	if credential.CalendarID == nil || *credential.CalendarID != calendarID {
		calendarID, err = o.credentials.SwapCalendarID(ctx, practitionerID, credential.CalendarID, calendarID)
		if err != nil {
			return "", "", newSyncError(KindStorageFailure, err.Error(), err)
		}
	}

	eventID, err := o.synchronizer.UpsertEvent(ctx, api, calendarID, *session)
	if err != nil {
		return "", "", err
	}
	return calendarID, eventID, nil
}
