package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/googlecalendar"
	"go.uber.org/zap"
)

const agendaPath = "/dashboard/agenda"

func (h *httpHandler) handleGoogleConnect(c *gin.Context) {
	state, err := h.states.IssueState(practitionerID(c))
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.Error(err))
		h.redirectToAgenda(c, "google")
		return
	}
	c.Redirect(http.StatusFound, h.connector.AuthCodeURL(state))
}

func (h *httpHandler) handleGoogleCallback(c *gin.Context) {
	practitioner := practitionerID(c)
	if providerError := c.Query("error"); providerError != "" {
		h.logger.Info("google consent declined", zap.String("practitioner_id", practitioner), zap.String("reason", providerError))
		h.redirectToAgenda(c, "google")
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		h.redirectToAgenda(c, "google")
		return
	}

	statePractitioner, err := h.states.ValidateState(c.Query("state"))
	if err != nil || statePractitioner != practitioner {
		h.logger.Warn("google callback state rejected", zap.String("practitioner_id", practitioner), zap.Error(err))
		h.redirectToAgenda(c, "invalid_state")
		return
	}

	grant, err := h.connector.Exchange(c.Request.Context(), code)
	if errors.Is(err, googlecalendar.ErrNoRefreshToken) {
		h.redirectToAgenda(c, "no_refresh_token")
		return
	}
	if err != nil {
		h.logger.Error("google code exchange failed", zap.String("practitioner_id", practitioner), zap.Error(err))
		h.redirectToAgenda(c, "google")
		return
	}

	if err := h.credentials.SaveCredential(c.Request.Context(), practitioner, grant.RefreshToken, grant.Scope); err != nil {
		h.logger.Error("failed to store google credential", zap.String("practitioner_id", practitioner), zap.Error(err))
		h.redirectToAgenda(c, "google")
		return
	}
	h.logger.Info("google calendar connected", zap.String("practitioner_id", practitioner))
	h.redirectToAgenda(c, "")
}

func (h *httpHandler) redirectToAgenda(c *gin.Context, errorCode string) {
	target := h.publicURL + agendaPath
	if errorCode != "" {
		target += "?" + url.Values{"error": []string{errorCode}}.Encode()
	}
	c.Redirect(http.StatusFound, target)
}
