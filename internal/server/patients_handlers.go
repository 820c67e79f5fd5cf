package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/patients"
	"go.uber.org/zap"
)

type createPatientPayload struct {
	FullName          string `json:"full_name" binding:"required"`
	DefaultPriceCents *int64 `json:"default_price_cents" binding:"omitempty,gte=0"`
}

type patientPayload struct {
	ID                string  `json:"id"`
	FullName          string  `json:"full_name"`
	DefaultPriceCents *int64  `json:"default_price_cents"`
	ArchivedAt        *string `json:"archived_at"`
	CreatedAt         string  `json:"created_at"`
}

func toPatientPayload(patient patients.Patient) patientPayload {
	payload := patientPayload{
		ID:                patient.ID,
		FullName:          patient.FullName,
		DefaultPriceCents: patient.DefaultPriceCents,
		CreatedAt:         patient.CreatedAt.UTC().Format(time.RFC3339),
	}
	if patient.ArchivedAt != nil {
		archivedAt := patient.ArchivedAt.UTC().Format(time.RFC3339)
		payload.ArchivedAt = &archivedAt
	}
	return payload
}

func toPatientPayloads(rows []patients.Patient) []patientPayload {
	payloads := make([]patientPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, toPatientPayload(row))
	}
	return payloads
}

func (h *httpHandler) handleListPatients(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.Query("include_archived"))
	rows, err := h.patientsService.List(c.Request.Context(), practitionerID(c), includeArchived)
	if err != nil {
		h.logger.Error("failed to list patients", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "patients_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": toPatientPayloads(rows)})
}

func (h *httpHandler) handleListActivePatients(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.patientsService.ListActive(c.Request.Context(), practitionerID(c), limit)
	if err != nil {
		h.logger.Error("failed to list active patients", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "patients_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": toPatientPayloads(rows)})
}

func (h *httpHandler) handleCreatePatient(c *gin.Context) {
	var request createPatientPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patient, err := h.patientsService.Create(c.Request.Context(), practitionerID(c), patients.CreateInput{
		FullName:          request.FullName,
		DefaultPriceCents: request.DefaultPriceCents,
	})
	switch {
	case errors.Is(err, patients.ErrNameTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": "name_too_short"})
		return
	case errors.Is(err, patients.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price"})
		return
	case err != nil:
		h.logger.Error("failed to create patient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "patient_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, toPatientPayload(patient))
}

func (h *httpHandler) handleArchivePatient(c *gin.Context) {
	h.setPatientArchived(c, true)
}

func (h *httpHandler) handleUnarchivePatient(c *gin.Context) {
	h.setPatientArchived(c, false)
}

func (h *httpHandler) setPatientArchived(c *gin.Context, archived bool) {
	var err error
	if archived {
		err = h.patientsService.Archive(c.Request.Context(), practitionerID(c), c.Param("id"))
	} else {
		err = h.patientsService.Unarchive(c.Request.Context(), practitionerID(c), c.Param("id"))
	}
	switch {
	case errors.Is(err, patients.ErrPatientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "patient_not_found"})
	case err != nil:
		h.logger.Error("failed to update patient archive state", zap.Bool("archived", archived), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "patient_update_failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}
