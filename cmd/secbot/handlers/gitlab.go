package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/secbot-io/secbot/cmd/secbot/service"
	"github.com/secbot-io/secbot/common/gitlab"
	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/metrics"
)

// webhookReply is the fixed acknowledgement body. GitLab retries anything
// but 2xx, so unsupported events are acknowledged too.
var webhookReply = map[string]string{"status": "ok"}

// GitlabHandler handles webhook deliveries
type GitlabHandler struct {
	service *service.GitlabService
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewGitlabHandler creates a gitlab webhook handler
func NewGitlabHandler(svc *service.GitlabService, log *logger.Logger, m *metrics.Metrics) *GitlabHandler {
	return &GitlabHandler{
		service: svc,
		log:     log,
		metrics: m,
	}
}

// PostWebhook ingests one webhook delivery
func (h *GitlabHandler) PostWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}

	eventHeader := c.Request().Header.Get("X-Gitlab-Event")
	event, supported := gitlab.ParseEventHeader(eventHeader, body)
	if !supported {
		h.log.Info("unsupported event", "event", eventHeader)
		h.metrics.ObserveWebhook(eventHeader, "unsupported")
		return c.JSON(http.StatusOK, webhookReply)
	}

	data, err := gitlab.ParseEvent(event, body)
	if err != nil {
		// A supported kind with an unusable payload is acknowledged and
		// dropped; there is nothing to retry.
		h.log.Warn("unsupported event data", "event", string(event), "error", err)
		h.metrics.ObserveWebhook(string(event), "unsupported_data")
		return c.JSON(http.StatusOK, webhookReply)
	}

	h.log.Info("received gitlab webhook event",
		"event", string(event),
		"project", data.Project.PathWithNamespace,
		"commit", data.Commit.ID)

	if err := h.service.HandleEvent(c.Request().Context(), data); err != nil {
		h.metrics.ObserveWebhook(string(event), "error")
		return err
	}

	h.metrics.ObserveWebhook(string(event), "accepted")
	return c.JSON(http.StatusOK, webhookReply)
}
