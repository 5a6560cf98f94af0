package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/secbot-io/secbot/cmd/secbot/container"
	"github.com/secbot-io/secbot/cmd/secbot/handlers"
	"github.com/secbot-io/secbot/cmd/secbot/routes"
	"github.com/secbot-io/secbot/common/bootstrap"
)

func main() {
	ctx := context.Background()

	rt, err := bootstrap.Setup(ctx, "secbot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap secbot: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	serviceContainer, err := container.NewContainer(rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.ErrorHandler(rt.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", func(c echo.Context) error {
		if err := rt.DB.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "unhealthy"})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "secbot",
		})
	})

	routes.Register(e, serviceContainer)

	port := rt.Config.Service.Port
	rt.Logger.Info("starting secbot", "port", port)
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		rt.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
