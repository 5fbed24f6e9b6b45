// Package diffusion holds the boundary to the numerical side of the service:
// fine-tuning LoRA weights against a base model and sampling images from them.
// The rest of the service only sees these interfaces.
package diffusion

import (
	"context"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/diffusion")

//go:generate mockgen -destination ./mock/mock.go -package mock . Trainer,Session,Loader,Pipeline

type TrainConfig struct {
	BaseModel    string
	ImagePaths   []string
	Steps        int
	LearningRate float64
	Resolution   int
}

// Called after each completed optimizer step, completed counts from 1.
type ProgressFunc func(completed, total int)

type Trainer interface {
	// Acquire the base model and preprocess the training images
	Setup(ctx context.Context, cfg TrainConfig) (Session, error)
}

// One prepared training run
type Session interface {
	Train(ctx context.Context, progress ProgressFunc) error
	// Write the trained LoRA weights to weightsPath
	Save(ctx context.Context, weightsPath string) error
	Close() error
}

type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	GuidanceScale  float64
	Steps          int
	// nil lets the backend pick a random seed
	Seed   *int64
	Width  int
	Height int
}

type Loader interface {
	// Construct a ready-to-sample pipeline from base model + LoRA weights
	Load(ctx context.Context, weightsPath string) (Pipeline, error)
}

type Pipeline interface {
	// Returns one PNG encoded image
	Generate(ctx context.Context, params GenerateParams) ([]byte, error)
	Close() error
}

type Accelerator interface {
	GPUAvailable(ctx context.Context) bool
}

// Everything the server needs from a backend
type Backend interface {
	Trainer
	Loader
	Accelerator
}
