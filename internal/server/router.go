package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/auth"
	"github.com/lumehq/lume/internal/googlecalendar"
	"github.com/lumehq/lume/internal/patients"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
)

const practitionerIDContextKey = "lume_practitioner_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingPractitioners    = errors.New("practitioner resolver dependency required")
	errMissingPatientsService  = errors.New("patients service dependency required")
	errMissingSessionsService  = errors.New("sessions service dependency required")
	errMissingCalendarConnect  = errors.New("google connect dependencies required")
)

// SessionValidator authenticates a request from its TAuth session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// PractitionerResolver maps session claims to a practitioner id.
type PractitionerResolver interface {
	ResolvePractitionerID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// CalendarConnector drives the Google OAuth consent flow.
type CalendarConnector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (googlecalendar.Grant, error)
}

// StateManager issues and validates OAuth state values bound to a practitioner.
type StateManager interface {
	IssueState(practitionerID string) (string, error)
	ValidateState(state string) (string, error)
}

// CredentialSaver persists a connected calendar credential.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, practitionerID, refreshToken, scope string) error
}

type Dependencies struct {
	SessionValidator SessionValidator
	Practitioners    PractitionerResolver
	PatientsService  *patients.Service
	SessionsService  *sessions.Service
	Connector        CalendarConnector
	States           StateManager
	Credentials      CredentialSaver
	Realtime         *RealtimeDispatcher
	AllowedOrigins   []string
	PublicURL        string
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Practitioners == nil {
		return nil, errMissingPractitioners
	}
	if deps.PatientsService == nil {
		return nil, errMissingPatientsService
	}
	if deps.SessionsService == nil {
		return nil, errMissingSessionsService
	}
	if deps.Connector == nil || deps.States == nil || deps.Credentials == nil {
		return nil, errMissingCalendarConnect
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessionValidator: deps.SessionValidator,
		practitioners:    deps.Practitioners,
		patientsService:  deps.PatientsService,
		sessionsService:  deps.SessionsService,
		connector:        deps.Connector,
		states:           deps.States,
		credentials:      deps.Credentials,
		realtime:         realtime,
		publicURL:        strings.TrimRight(deps.PublicURL, "/"),
		logger:           logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	integrations := router.Group("/integrations/google")
	integrations.Use(handler.authorizeBrowserRequest)
	integrations.GET("/connect", handler.handleGoogleConnect)
	integrations.GET("/callback", handler.handleGoogleCallback)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/patients", handler.handleListPatients)
	protected.GET("/patients/active", handler.handleListActivePatients)
	protected.POST("/patients", handler.handleCreatePatient)
	protected.POST("/patients/:id/archive", handler.handleArchivePatient)
	protected.POST("/patients/:id/unarchive", handler.handleUnarchivePatient)
	protected.GET("/sessions/upcoming", handler.handleListUpcomingSessions)
	protected.GET("/sessions/stream", handler.handleSessionStream)
	protected.POST("/sessions", handler.handleCreateSession)
	protected.GET("/sessions/:id", handler.handleGetSession)
	protected.PATCH("/sessions/:id", handler.handleRescheduleSession)
	protected.POST("/sessions/:id/resync", handler.handleResyncSession)

	return router, nil
}

type httpHandler struct {
	sessionValidator SessionValidator
	practitioners    PractitionerResolver
	patientsService  *patients.Service
	sessionsService  *sessions.Service
	connector        CalendarConnector
	states           StateManager
	credentials      CredentialSaver
	realtime         *RealtimeDispatcher
	publicURL        string
	logger           *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// authenticate resolves the practitioner behind the request, logging expired sessions at
// info level and other failures at warn level.
func (h *httpHandler) authenticate(c *gin.Context) (string, bool) {
	claims, err := h.sessionValidator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		return "", false
	}
	practitionerID, err := h.practitioners.ResolvePractitionerID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("practitioner resolution failed", zap.Error(err))
		return "", false
	}
	return practitionerID, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	practitionerID, ok := h.authenticate(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	c.Set(practitionerIDContextKey, practitionerID)
	c.Next()
}

// authorizeBrowserRequest sends unauthenticated browsers to the login page instead of
// answering with JSON.
func (h *httpHandler) authorizeBrowserRequest(c *gin.Context) {
	practitionerID, ok := h.authenticate(c)
	if !ok {
		c.Redirect(http.StatusFound, h.publicURL+"/login")
		c.Abort()
		return
	}
	c.Set(practitionerIDContextKey, practitionerID)
	c.Next()
}

func practitionerID(c *gin.Context) string {
	return c.GetString(practitionerIDContextKey)
}
