// Package routes registers the engine's HTTP surface on an Echo instance,
// grounded on the teacher's cmd/orchestrator/routes package.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/dataflow-engine/cmd/dataflow-engine/container"
	"github.com/lyzr/dataflow-engine/cmd/dataflow-engine/handlers"
	authmw "github.com/lyzr/dataflow-engine/cmd/dataflow-engine/middleware"
	commonmiddleware "github.com/lyzr/dataflow-engine/common/middleware"
)

// Register mounts every dataflow route under /api/v1.
func Register(e *echo.Echo, c *container.Container) {
	dataflowHandler := handlers.NewDataflowHandler(c.Store, c.Client, c.Components.Logger)

	dataflows := e.Group("/api/v1/dataflows")
	dataflows.Use(authmw.RequireBearerOwner())
	if c.Components.RateLimiter != nil {
		dataflows.Use(commonmiddleware.UserRateLimitMiddleware(c.Components.RateLimiter, c.Components.Config.RateLimit.DefaultUserLimit))
	}
	{
		dataflows.POST("", dataflowHandler.CreateDataflow)
		dataflows.GET("", dataflowHandler.ListDataflows)
		dataflows.GET("/:id", dataflowHandler.GetDataflow)
		dataflows.POST("/:id/cancel", dataflowHandler.CancelDataflow)
		dataflows.POST("/:id/terminate", dataflowHandler.TerminateDataflow)
		dataflows.POST("/:id/nodes/:node_id/template-patch", dataflowHandler.ApplyTemplatePatch)
	}
}
