package types

// Echoed verbatim into artifact metadata. The images themselves are not
// stored, only how many were supplied.
type TrainingConfig struct {
	ModelName     string  `json:"model_name"`
	TrainingSteps int     `json:"training_steps"`
	LearningRate  float64 `json:"learning_rate"`
	Resolution    int     `json:"resolution"`
	ImageCount    int     `json:"image_count"`
}

type TrainingRequest struct {
	// Display name for the trained model
	ModelName     string  `json:"model_name"     validate:"required,max=128"`
	TrainingSteps int     `json:"training_steps" validate:"min=100,max=5000"`
	LearningRate  float64 `json:"learning_rate"  validate:"min=0.00001,max=0.001"`
	Resolution    int     `json:"resolution"     validate:"min=512,max=1024"`
	// Base64 encoded images, optionally as data URIs
	//
	// 10MiB max size per image before Base64 encoding
	Images []string `json:"images" validate:"required,min=5,max=20"`
}

func DefaultTrainingRequest() TrainingRequest {
	return TrainingRequest{
		TrainingSteps: 1000,
		LearningRate:  1e-4,
		Resolution:    512,
	}
}

func (r TrainingRequest) Config() TrainingConfig {
	return TrainingConfig{
		ModelName:     r.ModelName,
		TrainingSteps: r.TrainingSteps,
		LearningRate:  r.LearningRate,
		Resolution:    r.Resolution,
		ImageCount:    len(r.Images),
	}
}

type TrainingResponse struct {
	JobID   string `json:"job_id"  validate:"required,uuid_rfc4122" format:"uuid"`
	Message string `json:"message" validate:"required"`
}

type TrainingStatus struct {
	JobID    string  `json:"job_id"             validate:"required"`
	Status   string  `json:"status"             validate:"required,oneof=queued training completed failed"`
	Progress float64 `json:"progress"           validate:"min=0,max=100"`
	Message  string  `json:"message"`
	ModelID  *string `json:"model_id,omitempty"`
}
