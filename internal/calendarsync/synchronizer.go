package calendarsync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errMissingEventMap = errors.New("calendarsync: event map store is required")

// Synchronizer creates or updates the external event of a session.
type Synchronizer struct {
	mappings *EventMapStore
	logger   *zap.Logger
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(mappings *EventMapStore, logger *zap.Logger) (*Synchronizer, error) {
	if mappings == nil {
		return nil, errMissingEventMap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{mappings: mappings, logger: logger}, nil
}

// EventBodyFor renders the event content for a session. It never contains clinical data.
func EventBodyFor(session SessionSnapshot) EventBody {
	return EventBody{
		Summary:           "Sessão - " + session.PatientName,
		Description:       "Lume ID: " + session.ID,
		StartsAt:          session.StartsAt.UTC(),
		EndsAt:            session.EndsAt.UTC(),
		PrivateProperties: map[string]string{SessionIDProperty: session.ID},
	}
}

// UpsertEvent makes sure exactly one external event exists for the session and returns
// its id. Repeated calls patch the mapped event. When two first-time syncs race, the
// loser's event is left unmapped and the winner's id is returned.
func (s *Synchronizer) UpsertEvent(ctx context.Context, api CalendarAPI, calendarID string, session SessionSnapshot) (string, error) {
	body := EventBodyFor(session)

	mapping, found, err := s.mappings.Find(ctx, session.PractitionerID, session.ID, ProviderGoogle)
	if err != nil {
		return "", newSyncError(KindStorageFailure, err.Error(), err)
	}

	if found {
		if _, err := api.PatchEvent(ctx, calendarID, mapping.GoogleEventID, body); err != nil {
			return "", externalSyncError(err)
		}
		if err := s.mappings.Touch(ctx, mapping, calendarID); err != nil {
			return "", newSyncError(KindStorageFailure, err.Error(), err)
		}
		return mapping.GoogleEventID, nil
	}

	eventID, err := api.CreateEvent(ctx, calendarID, body)
	if err != nil {
		return "", externalSyncError(err)
	}

	survivor, inserted, err := s.mappings.InsertIfAbsent(ctx, EventMapping{
		PractitionerID: session.PractitionerID,
		SessionID:      session.ID,
		Provider:       ProviderGoogle,
		GoogleEventID:  eventID,
		CalendarID:     calendarID,
	})
	if err != nil {
		return "", newSyncError(KindStorageFailure, err.Error(), err)
	}
	if !inserted {
		s.logger.Warn("event mapping already existed, keeping first event",
			zap.String("practitioner_id", session.PractitionerID),
			zap.String("session_id", session.ID),
			zap.String("event_id", survivor.GoogleEventID),
			zap.String("orphaned_event_id", eventID))
	}
	return survivor.GoogleEventID, nil
}
