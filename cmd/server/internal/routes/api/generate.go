package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/cmd/server/internal/response"
	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/audit"
	"github.com/museai/lora-api/internal/diffusion"
	"github.com/museai/lora-api/internal/gallery"
	"github.com/museai/lora-api/internal/inference"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/metrics"
	"github.com/museai/lora-api/internal/types"
)

func (h *Handler) observe(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveGeneration(outcome, time.Since(start))
	}
}

// Generate renders one image with a trained model
func (h *Handler) Generate(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Generate")
	defer span.End()

	req := types.DefaultGenerationRequest()
	if err := c.Bind(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to bind request")
		return response.BadRequestError
	}

	if err := c.Validate(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to validate request")
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	span.SetAttributes(
		attribute.String("model.id", req.ModelID),
		attribute.Int("steps", req.NumSteps),
		attribute.Int("width", req.Width),
		attribute.Int("height", req.Height),
	)

	start := time.Now()
	image, err := h.generator.Generate(ctx, req.ModelID, diffusion.GenerateParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		GuidanceScale:  req.GuidanceScale,
		Steps:          req.NumSteps,
		Seed:           req.Seed,
		Width:          req.Width,
		Height:         req.Height,
	})
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidID) {
			h.observe(metrics.OutcomeNotFound, start)
			span.SetStatus(codes.Error, "model not found")
			return response.ModelNotFoundError
		}

		h.observe(metrics.OutcomeFailed, start)
		logger.Logger.ErrorContext(ctx, "generation failed", "modelID", req.ModelID, "error", err)

		var genErr *inference.GenerationError
		if errors.As(err, &genErr) {
			span.SetStatus(codes.Error, "generation failed")
			return response.GenerationError
		}
		span.SetStatus(codes.Error, "failed to generate")
		return response.InternalServerError
	}

	imageID := uuid.NewString()
	if _, err := h.gallery.Save(ctx, imageID, image); err != nil {
		h.observe(metrics.OutcomeFailed, start)
		logger.Logger.ErrorContext(ctx, "failed to save generated image", "imageID", imageID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save image")
		return response.InternalServerError
	}

	resp := types.GenerationResponse{
		ImageID:   imageID,
		ImageData: gallery.DataURI(image),
		Prompt:    req.Prompt,
		Seed:      req.Seed,
		ModelID:   req.ModelID,
	}

	if h.archiver != nil {
		url, err := h.archiver.ArchiveImage(ctx, req.ModelID, imageID, image)
		if err != nil {
			logger.Logger.WarnContext(ctx, "failed to archive generated image", "imageID", imageID, "error", err)
		} else {
			resp.ImageURL = &url
		}
	}

	audit.LogImageGenerated(audit.Context{ModelID: &req.ModelID}, imageID, req.Seed, req.Width, req.Height)
	h.observe(metrics.OutcomeOK, start)

	span.SetAttributes(attribute.String("image.id", imageID))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "generated image")
	return c.JSON(http.StatusOK, resp)
}
