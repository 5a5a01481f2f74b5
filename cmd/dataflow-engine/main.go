package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/dataflow-engine/cmd/dataflow-engine/container"
	"github.com/lyzr/dataflow-engine/cmd/dataflow-engine/routes"
	"github.com/lyzr/dataflow-engine/common/bootstrap"
	commonmiddleware "github.com/lyzr/dataflow-engine/common/middleware"
	"github.com/lyzr/dataflow-engine/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "dataflow-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap dataflow-engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	c, err := container.New(components)
	if err != nil {
		components.Logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}

	e := setupEcho()
	if c.Components.RateLimiter != nil {
		e.Use(commonmiddleware.GlobalRateLimitMiddleware(c.Components.RateLimiter, c.Components.Config.RateLimit.GlobalLimit))
	}
	routes.Register(e, c)

	srv := server.New(components.Config.Service.Name, components.Config.Service.Port, e, components.Logger)

	components.Logger.Info("dataflow-engine ready", "port", components.Config.Service.Port)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "dataflow-engine"})
	})
	return e
}
