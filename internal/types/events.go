package types

import "time"

// Published on the job events queue whenever a training job reaches a terminal state
type JobEvent struct {
	JobID     string    `json:"job_id"             validate:"required"`
	Status    string    `json:"status"             validate:"required,oneof=completed failed"`
	Message   string    `json:"message"`
	ModelID   *string   `json:"model_id,omitempty"`
	Timestamp time.Time `json:"timestamp"          validate:"required"`
}
