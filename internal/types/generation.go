package types

type GenerationRequest struct {
	ModelID        string  `json:"model_id"        validate:"required,model_id"`
	Prompt         string  `json:"prompt"          validate:"required,max=2000"`
	NegativePrompt string  `json:"negative_prompt" validate:"max=2000"`
	GuidanceScale  float64 `json:"guidance_scale"  validate:"min=1,max=20"`
	NumSteps       int     `json:"num_steps"       validate:"min=20,max=50"`
	Seed           *int64  `json:"seed"`
	Width          int     `json:"width"           validate:"min=512,max=1024"`
	Height         int     `json:"height"          validate:"min=512,max=1024"`
}

func DefaultGenerationRequest() GenerationRequest {
	return GenerationRequest{
		NegativePrompt: "blurry, low quality, distorted",
		GuidanceScale:  7.0,
		NumSteps:       30,
		Width:          512,
		Height:         512,
	}
}

type GenerationResponse struct {
	ImageID string `json:"image_id"   format:"uuid"`
	// PNG as a data URI
	ImageData string  `json:"image_data"`
	Prompt    string  `json:"prompt"`
	Seed      *int64  `json:"seed"`
	ModelID   string  `json:"model_id"`
	ImageURL  *string `json:"image_url,omitempty"`
}
