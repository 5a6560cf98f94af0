package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/secbot-io/secbot/cmd/secbot/container"
	"github.com/secbot-io/secbot/cmd/secbot/middleware"
)

// Register mounts all application routes
func Register(e *echo.Echo, c *container.Container) {
	v1 := e.Group("/v1")

	gitlab := v1.Group("/gitlab")
	gitlab.Use(middleware.GitlabTokenAuth(c.Runtime.Config.WebhookTokens()))
	gitlab.POST("/webhook", c.GitlabHandler.PostWebhook)

	security := v1.Group("/security")
	security.GET("/gitlab/check/:security_check_id", c.SecurityHandler.GetCheck)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		c.Runtime.Metrics.Registry,
		promhttp.HandlerOpts{},
	)))
}
