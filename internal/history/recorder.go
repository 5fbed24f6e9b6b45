package history

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
)

var ErrNotFound = errors.New("job not found in history")

var _ orchestrator.Observer = (*Recorder)(nil)

type TrainingJob struct {
	ID         string `gorm:"primaryKey"`
	Status     string `gorm:"type:text;default:'queued'"`
	Progress   float64
	Message    string
	ModelID    *string
	Config     datatypes.JSONType[types.TrainingConfig] `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

func (TrainingJob) TableName() string {
	return "training_job"
}

func (j TrainingJob) TrainingStatus() types.TrainingStatus {
	return types.TrainingStatus{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.Message,
		ModelID:  j.ModelID,
	}
}

// Recorder writes a row when a job is submitted and overwrites it with the
// terminal state when the job finishes.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) JobSubmitted(ctx context.Context, jobID string, cfg types.TrainingConfig) {
	ctx, span := tracer.Start(ctx, "Recorder.JobSubmitted", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	row := TrainingJob{
		ID:       jobID,
		Status:   string(ledger.StateQueued),
		Progress: ledger.MinProgress,
		Message:  ledger.QueuedMessage,
		Config:   datatypes.NewJSONType(cfg),
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record job")
		logger.Logger.ErrorContext(ctx, "failed to record submitted job", "jobID", jobID, "error", err)
		return
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "recorded job")
}

func (r *Recorder) JobFinished(ctx context.Context, result orchestrator.Result) {
	ctx, span := tracer.Start(ctx, "Recorder.JobFinished", trace.WithAttributes(
		attribute.String("job.id", result.JobID),
	))
	defer span.End()

	finished := result.Finished.UTC()
	row := TrainingJob{
		ID:         result.JobID,
		Status:     string(result.Final.State),
		Progress:   result.Final.Progress,
		Message:    result.Final.Message,
		ModelID:    result.Final.ModelID,
		Config:     datatypes.NewJSONType(result.Config),
		FinishedAt: &finished,
	}

	// upsert in case the submit write was lost
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(
				[]string{"status", "progress", "message", "model_id", "finished_at"},
			),
		}).
		Create(&row).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record job result")
		logger.Logger.ErrorContext(ctx, "failed to record finished job", "jobID", result.JobID, "error", err)
		return
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "recorded job result")
}

// Get returns the last recorded status of a job.
func (r *Recorder) Get(ctx context.Context, jobID string) (types.TrainingStatus, error) {
	ctx, span := tracer.Start(ctx, "Recorder.Get", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	var row TrainingJob
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "job not recorded")
		return types.TrainingStatus{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query job")
		return types.TrainingStatus{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "found job")
	return row.TrainingStatus(), nil
}
