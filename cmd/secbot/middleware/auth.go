package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// GitlabTokenAuth validates the webhook secret token against the
// configured allow-list. The comparison is constant-time per candidate so
// header probing cannot leak token prefixes.
func GitlabTokenAuth(tokens []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("X-Gitlab-Token")

			valid := false
			for _, token := range tokens {
				if len(header) == len(token) &&
					subtle.ConstantTimeCompare([]byte(header), []byte(token)) == 1 {
					valid = true
				}
			}

			if !valid {
				return c.JSON(http.StatusForbidden, map[string]any{
					"code":    "FORBIDDEN",
					"message": "X-Gitlab-Token header is invalid",
				})
			}
			return next(c)
		}
	}
}
