// Package api serves the training, generation and model management routes
// under /api.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/museai/lora-api/cmd/server/internal/ratelimit"
	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/diffusion"
	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
)

var tracer = otel.Tracer("github.com/museai/lora-api/cmd/server/internal/routes/api")

const timeKey = "time"

//go:generate mockgen -destination ./mock/mock.go -package mock . Submitter,JobHistory,Generator,ImageArchiver

type Submitter interface {
	Submit(ctx context.Context, req orchestrator.Request) (*orchestrator.Handle, error)
}

type Jobs interface {
	Get(jobID string) (ledger.Snapshot, error)
	List() []ledger.Snapshot
	CountActive() int
}

// JobHistory answers for jobs the ledger no longer knows about, such as those
// from before a restart.
type JobHistory interface {
	Get(ctx context.Context, jobID string) (types.TrainingStatus, error)
}

type Models interface {
	Get(ctx context.Context, modelID string) (artifact.Metadata, error)
	List(ctx context.Context) ([]artifact.Metadata, error)
	Delete(ctx context.Context, modelID string) error
}

type Generator interface {
	Generate(ctx context.Context, modelID string, params diffusion.GenerateParams) ([]byte, error)
	Invalidate(modelID string)
	Resident() int
}

type Gallery interface {
	Save(ctx context.Context, imageID string, image []byte) (string, error)
}

type ImageArchiver interface {
	ArchiveImage(ctx context.Context, modelID string, imageID string, image []byte) (string, error)
}

type GenerationMetrics interface {
	ObserveGeneration(outcome string, took time.Duration)
}

type Options struct {
	Submitter   Submitter
	Jobs        Jobs
	Models      Models
	Generator   Generator
	Gallery     Gallery
	Accelerator diffusion.Accelerator

	// Optional
	History  JobHistory
	Archiver ImageArchiver
	Metrics  GenerationMetrics

	// Rate limiting is skipped when Redis is nil
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
}

type Handler struct {
	submitter   Submitter
	jobs        Jobs
	models      Models
	generator   Generator
	gallery     Gallery
	accelerator diffusion.Accelerator

	history  JobHistory
	archiver ImageArchiver
	metrics  GenerationMetrics

	redis     *redis.Client
	rateLimit config.RateLimitConfig
}

func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Submitter == nil:
		return nil, errors.New("submitter is required")
	case opts.Jobs == nil:
		return nil, errors.New("jobs are required")
	case opts.Models == nil:
		return nil, errors.New("models are required")
	case opts.Generator == nil:
		return nil, errors.New("generator is required")
	case opts.Gallery == nil:
		return nil, errors.New("gallery is required")
	case opts.Accelerator == nil:
		return nil, errors.New("accelerator is required")
	}

	return &Handler{
		submitter:   opts.Submitter,
		jobs:        opts.Jobs,
		models:      opts.Models,
		generator:   opts.Generator,
		gallery:     opts.Gallery,
		accelerator: opts.Accelerator,
		history:     opts.History,
		archiver:    opts.Archiver,
		metrics:     opts.Metrics,
		redis:       opts.Redis,
		rateLimit:   opts.RateLimit,
	}, nil
}

func (h *Handler) limiter(key string, perMinute int64) []echo.MiddlewareFunc {
	if h.redis == nil || perMinute <= 0 {
		return nil
	}
	post := http.MethodPost
	return []echo.MiddlewareFunc{
		ratelimit.NewRedisLimiter(h.redis, key, perMinute, h.rateLimit.FailOpen, &post),
	}
}

func (h *Handler) AddRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.POST("/train/", h.Train, h.limiter("train", h.rateLimit.TrainPerMinute)...)
	g.GET("/training/", h.ListTraining)
	g.GET("/training/:job_id/", h.GetTraining)

	g.POST("/generate/", h.Generate, h.limiter("generate", h.rateLimit.GeneratePerMinute)...)

	g.GET("/models/", h.ListModels)
	g.GET("/models/:model_id/", h.GetModel)
	g.DELETE("/models/:model_id/", h.DeleteModel)

	g.GET("/health/", h.Health)
}
