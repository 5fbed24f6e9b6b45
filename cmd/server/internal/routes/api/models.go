package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/cmd/server/internal/response"
	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/audit"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/types"
)

const modelDeleted = "Model deleted successfully"

func isMissing(err error) bool {
	return errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidID)
}

func (h *Handler) ListModels(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListModels")
	defer span.End()

	models, err := h.models.List(ctx)
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to list models", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list models")
		return response.InternalServerError
	}

	infos := make([]types.ModelInfo, 0, len(models))
	for _, m := range models {
		infos = append(infos, m.Info())
	}

	span.SetAttributes(attribute.Int("models", len(infos)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed models")
	return c.JSON(http.StatusOK, infos)
}

func (h *Handler) GetModel(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetModel")
	defer span.End()

	modelID := c.Param("model_id")
	span.SetAttributes(attribute.String("model.id", modelID))

	model, err := h.models.Get(ctx, modelID)
	if isMissing(err) {
		span.SetStatus(codes.Error, "model not found")
		return response.ModelNotFoundError
	}
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to read model", "modelID", modelID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read model")
		return response.InternalServerError
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "found model")
	return c.JSON(http.StatusOK, model.Info())
}

// DeleteModel removes the artifact then drops any pipeline still holding it
func (h *Handler) DeleteModel(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "DeleteModel")
	defer span.End()

	modelID := c.Param("model_id")
	span.SetAttributes(attribute.String("model.id", modelID))

	err := h.models.Delete(ctx, modelID)
	if isMissing(err) {
		span.SetStatus(codes.Error, "model not found")
		return response.ModelNotFoundError
	}
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to delete model", "modelID", modelID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete model")
		return response.InternalServerError
	}

	h.generator.Invalidate(modelID)
	audit.LogModelDeleted(audit.Context{ModelID: &modelID})

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "deleted model")
	return c.JSON(http.StatusOK, types.Message{Message: modelDeleted})
}
