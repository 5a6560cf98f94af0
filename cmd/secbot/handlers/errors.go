package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/secbot-io/secbot/common/logger"
	"github.com/secbot-io/secbot/common/secerr"
)

var codeByStatus = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusForbidden:           "FORBIDDEN",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
}

// ErrorHandler translates known error kinds into status codes via the
// secerr registry; unknown kinds become 500.
func ErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var httpErr *echo.HTTPError
		var secErr *secerr.Error
		switch {
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				message = msg
			}
		case errors.As(err, &secErr):
			status = secerr.HTTPStatus(secErr)
			message = secErr.Message
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed", "path", c.Path(), "error", err)
			// Internal details stay out of the response body.
			message = "internal server error"
		}

		code, ok := codeByStatus[status]
		if !ok {
			code = "ERROR"
		}

		_ = c.JSON(status, map[string]any{
			"code":    code,
			"message": message,
		})
	}
}
