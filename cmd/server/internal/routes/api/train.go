package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/cmd/server/internal/response"
	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/validator"
)

const trainingStarted = "Training started"

// Train accepts a training request and starts the job in the background
func (h *Handler) Train(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Train")
	defer span.End()

	req := types.DefaultTrainingRequest()
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

	for i, image := range req.Images {
		if !validator.ValidateImageSize(image) {
			span.SetStatus(codes.Error, "image too large")
			fields := map[string]string{
				"images": fmt.Sprintf("image %d exceeds %d bytes", i, validator.MaxImageBytes),
			}
			return echo.NewHTTPError(
				http.StatusBadRequest,
				types.Error{Message: "validation error", Fields: &fields},
			)
		}
	}

	handle, err := h.submitter.Submit(ctx, orchestrator.Request{
		Config: req.Config(),
		Images: req.Images,
	})
	if errors.Is(err, orchestrator.ErrShuttingDown) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shutting down")
		return response.ShuttingDownError
	}
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to submit training job", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit job")
		return response.InternalServerError
	}

	span.SetAttributes(attribute.String("job.id", handle.JobID))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "submitted job")

	return c.JSON(http.StatusOK, types.TrainingResponse{JobID: handle.JobID, Message: trainingStarted})
}

func statusFromSnapshot(s ledger.Snapshot) types.TrainingStatus {
	return types.TrainingStatus{
		JobID:    s.JobID,
		Status:   string(s.State),
		Progress: s.Progress,
		Message:  s.Message,
		ModelID:  s.ModelID,
	}
}

func (h *Handler) GetTraining(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetTraining")
	defer span.End()

	jobID := c.Param("job_id")
	span.SetAttributes(attribute.String("job.id", jobID))

	snapshot, err := h.jobs.Get(jobID)
	if err == nil {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "found job in ledger")
		return c.JSON(http.StatusOK, statusFromSnapshot(snapshot))
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read ledger")
		return response.InternalServerError
	}

	if h.history != nil {
		status, err := h.history.Get(ctx, jobID)
		if err == nil {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "found job in history")
			return c.JSON(http.StatusOK, status)
		}
		// history is a fallback; an outage there still reads as not found
		logger.Logger.DebugContext(ctx, "job not in history", "jobID", jobID, "error", err)
	}

	span.SetStatus(codes.Error, "job not found")
	return response.JobNotFoundError
}

func (h *Handler) ListTraining(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "ListTraining")
	defer span.End()

	snapshots := h.jobs.List()
	statuses := make([]types.TrainingStatus, 0, len(snapshots))
	for _, s := range snapshots {
		statuses = append(statuses, statusFromSnapshot(s))
	}

	span.SetAttributes(attribute.Int("jobs", len(statuses)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed jobs")
	return c.JSON(http.StatusOK, statuses)
}
