package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/cmd/server/internal/middleware"
	"github.com/museai/lora-api/internal/types"
)

func (h *Handler) Health(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Health")
	defer span.End()

	resp := types.HealthResponse{
		Status:       "healthy",
		Timestamp:    middleware.RequestTime(c, timeKey),
		GPUAvailable: h.accelerator.GPUAvailable(ctx),
		ActiveJobs:   h.jobs.CountActive(),
		LoadedModels: h.generator.Resident(),
	}

	span.SetAttributes(
		attribute.Bool("gpu", resp.GPUAvailable),
		attribute.Int("jobs.active", resp.ActiveJobs),
		attribute.Int("models.loaded", resp.LoadedModels),
	)
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "healthy")
	return c.JSON(http.StatusOK, resp)
}
