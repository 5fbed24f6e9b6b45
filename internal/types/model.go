package types

import "time"

type ModelInfo struct {
	ModelID      string         `json:"model_id"`
	Name         string         `json:"name"`
	TrainingTime time.Time      `json:"training_time"`
	Status       string         `json:"status"`
	Config       TrainingConfig `json:"config"`
}

type Message struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	GPUAvailable bool      `json:"gpu_available"`
	ActiveJobs   int       `json:"active_jobs"`
	LoadedModels int       `json:"loaded_models"`
}
