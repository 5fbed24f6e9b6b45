package audit

import (
	"context"

	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
)

var _ orchestrator.Observer = JobObserver{}

// JobObserver writes job_submitted and job_finished events for every training job.
type JobObserver struct{}

func (JobObserver) JobSubmitted(_ context.Context, jobID string, cfg types.TrainingConfig) {
	LogJobSubmitted(Context{JobID: &jobID}, cfg)
}

func (JobObserver) JobFinished(_ context.Context, result orchestrator.Result) {
	LogJobFinished(
		Context{JobID: &result.JobID, ModelID: result.Final.ModelID},
		string(result.Final.State),
		result.Final.Message,
		result.Finished.Sub(result.Started),
	)
}
