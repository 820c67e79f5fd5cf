package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
)

type createSessionPayload struct {
	PatientID  string    `json:"patient_id" binding:"required"`
	StartsAt   time.Time `json:"starts_at" binding:"required"`
	EndsAt     time.Time `json:"ends_at" binding:"required,gtfield=StartsAt"`
	PriceCents *int64    `json:"price_cents" binding:"omitempty,gte=0"`
}

type rescheduleSessionPayload struct {
	StartsAt time.Time `json:"starts_at" binding:"required"`
	EndsAt   time.Time `json:"ends_at" binding:"required,gtfield=StartsAt"`
}

type sessionPayload struct {
	ID            string  `json:"id"`
	PatientID     string  `json:"patient_id"`
	PatientName   string  `json:"patient_name,omitempty"`
	StartsAt      string  `json:"starts_at"`
	EndsAt        string  `json:"ends_at"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	PriceCents    *int64  `json:"price_cents"`
	SyncStatus    string  `json:"sync_status"`
	SyncError     *string `json:"sync_error"`
	LastSyncAt    *string `json:"last_sync_at"`
}

func toSessionPayload(session sessions.Session) sessionPayload {
	payload := sessionPayload{
		ID:            session.ID,
		PatientID:     session.PatientID,
		StartsAt:      session.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:        session.EndsAt.UTC().Format(time.RFC3339),
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
		PriceCents:    session.PriceCents,
		SyncStatus:    string(session.SyncStatus),
		SyncError:     session.SyncError,
	}
	if session.LastSyncAt != nil {
		lastSyncAt := session.LastSyncAt.UTC().Format(time.RFC3339)
		payload.LastSyncAt = &lastSyncAt
	}
	return payload
}

func (h *httpHandler) handleListUpcomingSessions(c *gin.Context) {
	rows, err := h.sessionsService.ListUpcoming(c.Request.Context(), practitionerID(c))
	if err != nil {
		h.logger.Error("failed to list upcoming sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sessions_list_failed"})
		return
	}
	payloads := make([]sessionPayload, 0, len(rows))
	for _, row := range rows {
		payload := toSessionPayload(row.Session)
		payload.PatientName = row.PatientName
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": payloads})
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request createSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.sessionsService.Create(c.Request.Context(), practitionerID(c), sessions.CreateInput{
		PatientID:  request.PatientID,
		StartsAt:   request.StartsAt,
		EndsAt:     request.EndsAt,
		PriceCents: request.PriceCents,
	})
	if err != nil {
		h.writeSessionError(c, "failed to create session", err)
		return
	}
	c.JSON(http.StatusCreated, toSessionPayload(session))
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.sessionsService.Get(c.Request.Context(), practitionerID(c), c.Param("id"))
	if err != nil {
		h.writeSessionError(c, "failed to load session", err)
		return
	}
	c.JSON(http.StatusOK, toSessionPayload(session))
}

func (h *httpHandler) handleRescheduleSession(c *gin.Context) {
	var request rescheduleSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.sessionsService.Reschedule(c.Request.Context(), practitionerID(c), c.Param("id"), request.StartsAt, request.EndsAt)
	if err != nil {
		h.writeSessionError(c, "failed to reschedule session", err)
		return
	}
	c.JSON(http.StatusOK, toSessionPayload(session))
}

func (h *httpHandler) handleResyncSession(c *gin.Context) {
	session, err := h.sessionsService.Resync(c.Request.Context(), practitionerID(c), c.Param("id"))
	if err != nil {
		h.writeSessionError(c, "failed to resync session", err)
		return
	}
	c.JSON(http.StatusAccepted, toSessionPayload(session))
}

func (h *httpHandler) writeSessionError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, sessions.ErrInvalidTimeRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_time_range"})
	case errors.Is(err, sessions.ErrPatientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "patient_not_found"})
	case errors.Is(err, sessions.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	default:
		fields := []zap.Field{zap.Error(err)}
		var serviceErr *sessions.ServiceError
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error(message, fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_operation_failed"})
	}
}
