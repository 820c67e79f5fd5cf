package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumehq/lume/internal/auth"
	"github.com/lumehq/lume/internal/practitioners"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cookieSigningSecret = "integration-secret"
	cookieName          = "app_session"
	cookieUserID        = "google:sub-123"
)

func mustMintSessionToken(t *testing.T, userID string, now time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:    userID,
		UserEmail: "therapist@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tauth",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(cookieSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionCookieAuthenticatesPractitioner(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies, db *gorm.DB) {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(cookieSigningSecret),
			CookieName:    cookieName,
		})
		if err != nil {
			t.Fatalf("failed to construct session validator: %v", err)
		}
		resolver, err := practitioners.NewService(practitioners.ServiceConfig{Database: db, Logger: zap.NewNop()})
		if err != nil {
			t.Fatalf("failed to construct practitioner resolver: %v", err)
		}
		deps.SessionValidator = validator
		deps.Practitioners = resolver
	})

	testServer := httptest.NewServer(fixture.handler)
	defer testServer.Close()

	sessionCookie := &http.Cookie{Name: cookieName, Value: mustMintSessionToken(t, cookieUserID, time.Now())}

	createBody, _ := json.Marshal(map[string]any{"full_name": "Ana Souza"})
	createReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/patients", bytes.NewReader(createBody))
	createReq.AddCookie(sessionCookie)
	createReq.Header.Set("Content-Type", "application/json")

	createResp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}

	listReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/patients", nil)
	listReq.AddCookie(sessionCookie)
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", listResp.StatusCode)
	}
	var listing struct {
		Patients []patientPayload `json:"patients"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	if len(listing.Patients) != 1 || listing.Patients[0].FullName != "Ana Souza" {
		t.Fatalf("expected the created patient, got %+v", listing.Patients)
	}

	// Patients are scoped to the resolved practitioner, not the raw provider-qualified id.
	if rows, err := fixture.patients.List(createReq.Context(), "sub-123", false); err != nil || len(rows) != 1 {
		t.Fatalf("expected patient under resolved practitioner id, rows=%d err=%v", len(rows), err)
	}

	anonymousReq, _ := http.NewRequest(http.MethodGet, testServer.URL+"/patients", nil)
	anonymousResp, err := http.DefaultClient.Do(anonymousReq)
	if err != nil {
		t.Fatalf("anonymous request failed: %v", err)
	}
	defer anonymousResp.Body.Close()
	if anonymousResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", anonymousResp.StatusCode)
	}
}
