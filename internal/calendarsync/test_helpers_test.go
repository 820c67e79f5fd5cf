package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lumehq/lume/internal/patients"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixtureNow = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type patchCall struct {
	calendarID string
	eventID    string
	body       EventBody
}

type createEventCall struct {
	calendarID string
	body       EventBody
}

// fakeCalendar records calls and answers from configurable hooks.
type fakeCalendar struct {
	mu sync.Mutex

	calendars      map[string]bool
	lookupErr      error
	createCalErr   error
	createEventErr error
	patchErr       error
	beforeCreate   func()

	nextCalendar int
	nextEvent    int

	lookups       []string
	createdCals   []CalendarSpec
	createdEvents []createEventCall
	patches       []patchCall
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{calendars: map[string]bool{}}
}

func (f *fakeCalendar) LookupCalendar(ctx context.Context, calendarID string) CalendarLookup {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, calendarID)
	if f.lookupErr != nil {
		return Failed(f.lookupErr)
	}
	if f.calendars[calendarID] {
		return Found()
	}
	return NotFound()
}

func (f *fakeCalendar) CreateCalendar(ctx context.Context, spec CalendarSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCalErr != nil {
		return "", f.createCalErr
	}
	f.nextCalendar++
	id := fmt.Sprintf("calendar-%d", f.nextCalendar)
	f.calendars[id] = true
	f.createdCals = append(f.createdCals, spec)
	return id, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, calendarID string, body EventBody) (string, error) {
	f.mu.Lock()
	hook := f.beforeCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createEventErr != nil {
		return "", f.createEventErr
	}
	f.nextEvent++
	id := fmt.Sprintf("event-%d", f.nextEvent)
	f.createdEvents = append(f.createdEvents, createEventCall{calendarID: calendarID, body: body})
	return id, nil
}

func (f *fakeCalendar) PatchEvent(ctx context.Context, calendarID, eventID string, body EventBody) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return "", f.patchErr
	}
	f.patches = append(f.patches, patchCall{calendarID: calendarID, eventID: eventID, body: body})
	return eventID, nil
}

func (f *fakeCalendar) counts() (calendars, events, patches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createdCals), len(f.createdEvents), len(f.patches)
}

type fakeClientFactory struct {
	api    CalendarAPI
	err    error
	tokens []string
	mu     sync.Mutex
}

func (f *fakeClientFactory) ForCredential(ctx context.Context, refreshToken string) (CalendarAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, refreshToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.api, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []SyncOutcome
}

func (n *recordingNotifier) PublishSyncOutcome(practitionerID string, outcome SyncOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome)
}

// failingDirectory simulates a patient store that cannot be reached.
type failingDirectory struct {
	err error
}

func (d failingDirectory) DisplayName(context.Context, string, string) (string, error) {
	return "", d.err
}

type syncFixture struct {
	db           *gorm.DB
	calendar     *fakeCalendar
	factory      *fakeClientFactory
	patients     *patients.Service
	sessions     *sessions.Service
	credentials  *CredentialStore
	mappings     *EventMapStore
	provisioner  *Provisioner
	synchronizer *Synchronizer
	orchestrator *Orchestrator
	notifier     *recordingNotifier
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "calendarsync.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&patients.Patient{}, &sessions.Session{}, &CalendarIntegration{}, &EventMapping{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newSyncFixture(t *testing.T, logger *zap.Logger) *syncFixture {
	t.Helper()
	db := openTestDatabase(t)
	clock := func() time.Time { return fixtureNow }

	patientService, err := patients.NewService(patients.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{prefix: "patient"},
	})
	if err != nil {
		t.Fatalf("failed to build patients: %v", err)
	}
	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Patients:   patientService,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{prefix: "session"},
	})
	if err != nil {
		t.Fatalf("failed to build sessions: %v", err)
	}

	storeConfig := StoreConfig{Database: db, Clock: clock, Logger: logger}
	credentials, err := NewCredentialStore(storeConfig)
	if err != nil {
		t.Fatalf("failed to build credential store: %v", err)
	}
	mappings, err := NewEventMapStore(storeConfig)
	if err != nil {
		t.Fatalf("failed to build event map store: %v", err)
	}

	calendar := newFakeCalendar()
	factory := &fakeClientFactory{api: calendar}
	provisioner, err := NewProvisioner(ProvisionerConfig{Clients: factory, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build provisioner: %v", err)
	}
	synchronizer, err := NewSynchronizer(mappings, logger)
	if err != nil {
		t.Fatalf("failed to build synchronizer: %v", err)
	}
	notifier := &recordingNotifier{}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Patients:     patientService,
		Credentials:  credentials,
		Provisioner:  provisioner,
		Synchronizer: synchronizer,
		Sessions:     sessionService,
		Notifier:     notifier,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	return &syncFixture{
		db:           db,
		calendar:     calendar,
		factory:      factory,
		patients:     patientService,
		sessions:     sessionService,
		credentials:  credentials,
		mappings:     mappings,
		provisioner:  provisioner,
		synchronizer: synchronizer,
		orchestrator: orchestrator,
		notifier:     notifier,
	}
}

// scheduleSession creates a patient and a pending session for the practitioner.
func (f *syncFixture) scheduleSession(t *testing.T, practitionerID, patientName string) sessions.Session {
	t.Helper()
	ctx := context.Background()
	patient, err := f.patients.Create(ctx, practitionerID, patients.CreateInput{FullName: patientName})
	if err != nil {
		t.Fatalf("failed to create patient: %v", err)
	}
	startsAt := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	session, err := f.sessions.Create(ctx, practitionerID, sessions.CreateInput{
		PatientID: patient.ID,
		StartsAt:  startsAt,
		EndsAt:    startsAt.Add(50 * time.Minute),
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

func (f *syncFixture) connect(t *testing.T, practitionerID string) {
	t.Helper()
	if err := f.credentials.SaveCredential(context.Background(), practitionerID, "refresh-"+practitionerID, "https://www.googleapis.com/auth/calendar"); err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}
}

func (f *syncFixture) reload(t *testing.T, session sessions.Session) sessions.Session {
	t.Helper()
	stored, err := f.sessions.Get(context.Background(), session.PractitionerID, session.ID)
	if err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	return stored
}

func (f *syncFixture) mappingCount(t *testing.T, sessionID string) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&EventMapping{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count mappings: %v", err)
	}
	return count
}

func assertStatusInvariant(t *testing.T, session sessions.Session) {
	t.Helper()
	switch session.SyncStatus {
	case sessions.SyncStatusError:
		if session.SyncError == nil || *session.SyncError == "" {
			t.Fatalf("error status without message: %+v", session)
		}
	case sessions.SyncStatusSynced, sessions.SyncStatusPending:
		if session.SyncError != nil {
			t.Fatalf("%s status with message %q", session.SyncStatus, *session.SyncError)
		}
	default:
		t.Fatalf("unexpected sync status %q", session.SyncStatus)
	}
}

func externalErr(class ExternalClass, operation string) error {
	return &ExternalError{Class: class, Operation: operation, Err: errors.New(string(class))}
}
