package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/auth"
	"github.com/lumehq/lume/internal/calendarsync"
	"github.com/lumehq/lume/internal/database"
	"github.com/lumehq/lume/internal/googlecalendar"
	"github.com/lumehq/lume/internal/patients"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testPractitionerID = "practitioner-1"
	testPublicURL      = "https://app.lume.test"
)

var fixtureNow = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

// stubSessionValidator treats the bearer token as the practitioner id.
type stubSessionValidator struct {
	err error
}

func (v stubSessionValidator) ValidateRequest(r *http.Request) (auth.SessionClaims, error) {
	if v.err != nil {
		return auth.SessionClaims{}, v.err
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return auth.SessionClaims{}, auth.ErrMissingSessionToken
	}
	return auth.SessionClaims{UserID: token}, nil
}

type stubPractitionerResolver struct{}

func (stubPractitionerResolver) ResolvePractitionerID(_ context.Context, claims auth.SessionClaims) (string, error) {
	return claims.UserID, nil
}

type stubConnector struct {
	grant       googlecalendar.Grant
	exchangeErr error
	codes       []string
}

func (s *stubConnector) AuthCodeURL(state string) string {
	return "https://accounts.google.test/auth?state=" + state
}

func (s *stubConnector) Exchange(_ context.Context, code string) (googlecalendar.Grant, error) {
	s.codes = append(s.codes, code)
	if s.exchangeErr != nil {
		return googlecalendar.Grant{}, s.exchangeErr
	}
	return s.grant, nil
}

// stubStates encodes the practitioner id directly into the state value.
type stubStates struct {
	issueErr error
}

func (s stubStates) IssueState(practitionerID string) (string, error) {
	if s.issueErr != nil {
		return "", s.issueErr
	}
	return "state-" + practitionerID, nil
}

func (stubStates) ValidateState(state string) (string, error) {
	if !strings.HasPrefix(state, "state-") {
		return "", auth.ErrInvalidState
	}
	return strings.TrimPrefix(state, "state-"), nil
}

// fakeCalendar is an in-memory calendar provider.
type fakeCalendar struct {
	mu             sync.Mutex
	calendars      map[string]bool
	events         map[string]calendarsync.EventBody
	createEventErr error
	nextID         int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{calendars: map[string]bool{}, events: map[string]calendarsync.EventBody{}}
}

func (f *fakeCalendar) LookupCalendar(_ context.Context, calendarID string) calendarsync.CalendarLookup {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calendars[calendarID] {
		return calendarsync.Found()
	}
	return calendarsync.NotFound()
}

func (f *fakeCalendar) CreateCalendar(_ context.Context, _ calendarsync.CalendarSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("cal-%d", f.nextID)
	f.calendars[id] = true
	return id, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, body calendarsync.EventBody) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createEventErr != nil {
		return "", f.createEventErr
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = body
	return id, nil
}

func (f *fakeCalendar) PatchEvent(_ context.Context, _ string, eventID string, body calendarsync.EventBody) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[eventID]; !ok {
		return "", &calendarsync.ExternalError{Class: calendarsync.ExternalNotFound, Operation: "events.patch"}
	}
	f.events[eventID] = body
	return eventID, nil
}

func (f *fakeCalendar) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeCalendar) event(id string) (calendarsync.EventBody, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.events[id]
	return body, ok
}

type fakeClientFactory struct {
	calendar *fakeCalendar
}

func (f fakeClientFactory) ForCredential(context.Context, string) (calendarsync.CalendarAPI, error) {
	return f.calendar, nil
}

// inlineTrigger runs the sync before the request returns so tests can assert on it.
type inlineTrigger struct {
	syncer calendarsync.SessionSyncer
}

func (t inlineTrigger) TriggerSync(practitionerID string, session sessions.Session) {
	t.syncer.SyncSession(context.Background(), practitionerID, calendarsync.SnapshotOf(session))
}

type serverFixture struct {
	handler     http.Handler
	patients    *patients.Service
	sessions    *sessions.Service
	credentials *calendarsync.CredentialStore
	mappings    *calendarsync.EventMapStore
	calendar    *fakeCalendar
	connector   *stubConnector
	realtime    *RealtimeDispatcher
	logs        *observer.ObservedLogs
}

type fixtureOption func(deps *Dependencies, db *gorm.DB)

func newServerFixture(t *testing.T, options ...fixtureOption) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "lume.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clock := func() time.Time { return fixtureNow }
	location, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	idProvider := &sequenceIDProvider{}

	patientsService, err := patients.NewService(patients.ServiceConfig{Database: db, Clock: clock, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("patients service: %v", err)
	}
	sessionsService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Patients:   patientsService,
		Clock:      clock,
		IDProvider: idProvider,
		Location:   location,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("sessions service: %v", err)
	}

	storeConfig := calendarsync.StoreConfig{Database: db, Clock: clock, Logger: logger}
	credentials, err := calendarsync.NewCredentialStore(storeConfig)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	mappings, err := calendarsync.NewEventMapStore(storeConfig)
	if err != nil {
		t.Fatalf("event map store: %v", err)
	}
	calendar := newFakeCalendar()
	provisioner, err := calendarsync.NewProvisioner(calendarsync.ProvisionerConfig{Clients: fakeClientFactory{calendar: calendar}, Logger: logger})
	if err != nil {
		t.Fatalf("provisioner: %v", err)
	}
	synchronizer, err := calendarsync.NewSynchronizer(mappings, logger)
	if err != nil {
		t.Fatalf("synchronizer: %v", err)
	}
	realtime := NewRealtimeDispatcher()
	orchestrator, err := calendarsync.NewOrchestrator(calendarsync.OrchestratorConfig{
		Patients:     patientsService,
		Credentials:  credentials,
		Provisioner:  provisioner,
		Synchronizer: synchronizer,
		Sessions:     sessionsService,
		Notifier:     realtime,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	sessionsService.SetTrigger(inlineTrigger{syncer: orchestrator})

	connector := &stubConnector{grant: googlecalendar.Grant{RefreshToken: "refresh-1", Scope: googlecalendar.CalendarScope}}
	deps := Dependencies{
		SessionValidator: stubSessionValidator{},
		Practitioners:    stubPractitionerResolver{},
		PatientsService:  patientsService,
		SessionsService:  sessionsService,
		Connector:        connector,
		States:           stubStates{},
		Credentials:      credentials,
		Realtime:         realtime,
		AllowedOrigins:   []string{testPublicURL},
		PublicURL:        testPublicURL,
		Logger:           logger,
	}
	for _, option := range options {
		option(&deps, db)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}

	return &serverFixture{
		handler:     handler,
		patients:    patientsService,
		sessions:    sessionsService,
		credentials: credentials,
		mappings:    mappings,
		calendar:    calendar,
		connector:   connector,
		realtime:    realtime,
		logs:        logs,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Authorization", "Bearer "+testPractitionerID)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *serverFixture) createPatient(t *testing.T, name string) patients.Patient {
	t.Helper()
	patient, err := f.patients.Create(context.Background(), testPractitionerID, patients.CreateInput{FullName: name})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return patient
}

func (f *serverFixture) connect(t *testing.T) {
	t.Helper()
	if err := f.credentials.SaveCredential(context.Background(), testPractitionerID, "refresh-1", googlecalendar.CalendarScope); err != nil {
		t.Fatalf("save credential: %v", err)
	}
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	decodeJSON(t, recorder, &payload)
	return payload["error"]
}
