package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/secbot-io/secbot/cmd/secbot/service"
)

// SecurityHandler answers status queries by check identifier
type SecurityHandler struct {
	service *service.GitlabService
}

// NewSecurityHandler creates a security status handler
func NewSecurityHandler(svc *service.GitlabService) *SecurityHandler {
	return &SecurityHandler{service: svc}
}

// GetCheck returns the consolidated verdict of a security check
func (h *SecurityHandler) GetCheck(c echo.Context) error {
	status, err := h.service.Status(c.Request().Context(), c.Param("security_check_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}
