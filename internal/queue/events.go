package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/validator"
)

var _ orchestrator.Observer = (*EventPublisher)(nil)

// EventPublisher enqueues a types.JobEvent whenever a training job finishes.
type EventPublisher struct {
	queuer Queuer
}

func NewEventPublisher(queuer Queuer) *EventPublisher {
	return &EventPublisher{queuer: queuer}
}

func (*EventPublisher) JobSubmitted(context.Context, string, types.TrainingConfig) {}

func (p *EventPublisher) JobFinished(ctx context.Context, result orchestrator.Result) {
	ctx, span := tracer.Start(ctx, "EventPublisher.JobFinished", trace.WithAttributes(
		attribute.String("job.id", result.JobID),
		attribute.String("job.status", string(result.Final.State)),
	))
	defer span.End()

	event := types.JobEvent{
		JobID:     result.JobID,
		Status:    string(result.Final.State),
		Message:   result.Final.Message,
		ModelID:   result.Final.ModelID,
		Timestamp: result.Finished.UTC(),
	}

	if err := p.queuer.Enqueue(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish job event")
		logger.Logger.ErrorContext(ctx, "failed to publish job event", "jobID", result.JobID, "error", err)
		return
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "published job event")
}

// JobEventHandler decodes and validates job events before passing them on.
// Malformed messages are poisoned so they are not redelivered.
type JobEventHandler struct {
	validator validator.CustomValidator
	fn        func(ctx context.Context, event types.JobEvent) error
}

var _ MessageHandler = (*JobEventHandler)(nil)

func NewJobEventHandler(fn func(ctx context.Context, event types.JobEvent) error) *JobEventHandler {
	return &JobEventHandler{validator: validator.Create(), fn: fn}
}

func (h *JobEventHandler) Handle(ctx context.Context, message []byte) error {
	ctx, span := tracer.Start(ctx, "JobEventHandler.Handle")
	defer span.End()

	var event types.JobEvent
	if err := json.Unmarshal(message, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal job event")
		return WrapPoisonError(fmt.Errorf("failed to unmarshal job event: %w", err))
	}

	if err := h.validator.Validate(&event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid job event")
		return WrapPoisonError(fmt.Errorf("invalid job event: %w", err))
	}

	span.SetAttributes(attribute.String("job.id", event.JobID))

	if err := h.fn(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "handled job event")
	return nil
}

// FromConfig builds the Azure queuer for job events and creates the queue
// if needed.
func FromConfig(ctx context.Context, cfg *config.EventsConfig) (*AzureQueuer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("job events are disabled")
	}

	q, err := NewAzureQueuer(cfg.Name, cfg.Key, cfg.QueueURL, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to create queuer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := q.EnsureQueue(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure queue: %w", err)
	}

	return q, nil
}
