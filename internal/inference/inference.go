// Package inference serves image generation from trained models. The first
// request for a model loads it once and the loaded pipeline stays resident
// until the model is invalidated.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/diffusion"
	"github.com/museai/lora-api/internal/hash"
	"github.com/museai/lora-api/internal/logger"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/inference")

//go:generate mockgen -destination ./mock/mock.go -package mock . Artifacts

// GenerationError covers every failure after the model was found: loading the
// pipeline, sampling, or an empty result.
type GenerationError struct {
	ModelID string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.ModelID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

var (
	errEmptyImage = errors.New("pipeline returned an empty image")
	// the model was invalidated while its pipeline was loading
	errStale = errors.New("pipeline invalidated during load")
)

const maxLoadAttempts = 3

type Artifacts interface {
	Get(ctx context.Context, modelID string) (artifact.Metadata, error)
	WeightsPath(modelID string) string
}

type handle struct {
	modelID  string
	pipeline diffusion.Pipeline
	inUse    int
	evicted  bool
}

type Server struct {
	artifacts Artifacts
	loader    diffusion.Loader

	loads singleflight.Group

	mu      sync.Mutex
	handles map[string]*handle
	// bumped by Invalidate so loads started before it are not cached
	epochs map[string]uint64
}

func New(artifacts Artifacts, loader diffusion.Loader) *Server {
	return &Server{
		artifacts: artifacts,
		loader:    loader,
		handles:   make(map[string]*handle),
		epochs:    make(map[string]uint64),
	}
}

// Generate samples one PNG from modelID. A missing model yields an error
// matching artifact.ErrNotFound, anything else a *GenerationError.
func (s *Server) Generate(ctx context.Context, modelID string, params diffusion.GenerateParams) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Server.Generate", trace.WithAttributes(
		attribute.String("model.id", modelID),
		attribute.Int("width", params.Width),
		attribute.Int("height", params.Height),
		attribute.Int("steps", params.Steps),
	))
	defer span.End()

	h, err := s.acquire(ctx, modelID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire pipeline")
		return nil, err
	}
	defer s.release(h)

	image, err := h.pipeline.Generate(ctx, params)
	if err == nil && len(image) == 0 {
		err = errEmptyImage
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate image")
		return nil, &GenerationError{ModelID: modelID, Err: err}
	}

	span.SetAttributes(attribute.Int("image.bytes", len(image)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "generated image")
	return image, nil
}

// Invalidate drops the resident pipeline for modelID. The pipeline is closed
// once the generations currently using it finish.
func (s *Server) Invalidate(modelID string) {
	s.mu.Lock()
	s.epochs[modelID]++
	s.loads.Forget(modelID)

	h, ok := s.handles[modelID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.handles, modelID)
	h.evicted = true
	idle := h.inUse == 0
	s.mu.Unlock()

	if idle {
		closePipeline(h)
	}
}

// Number of resident pipelines
func (s *Server) Resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close drops every resident pipeline.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Invalidate(id)
	}
}

func (s *Server) acquire(ctx context.Context, modelID string) (*handle, error) {
	for range maxLoadAttempts {
		s.mu.Lock()
		if h, ok := s.handles[modelID]; ok {
			h.inUse++
			s.mu.Unlock()
			return h, nil
		}
		s.mu.Unlock()

		// a cancelled caller must not fail the load for everyone sharing it
		loadCtx := context.WithoutCancel(ctx)
		v, err, _ := s.loads.Do(modelID, func() (any, error) {
			return s.load(loadCtx, modelID)
		})
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			return nil, err
		}

		h := v.(*handle)
		s.mu.Lock()
		if s.handles[modelID] == h {
			h.inUse++
			s.mu.Unlock()
			return h, nil
		}
		s.mu.Unlock()
	}

	return nil, &GenerationError{ModelID: modelID, Err: errStale}
}

func (s *Server) load(ctx context.Context, modelID string) (*handle, error) {
	ctx, span := tracer.Start(ctx, "Server.load", trace.WithAttributes(
		attribute.String("model.id", modelID),
	))
	defer span.End()

	s.mu.Lock()
	if h, ok := s.handles[modelID]; ok {
		s.mu.Unlock()
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "already resident")
		return h, nil
	}
	epoch := s.epochs[modelID]
	s.mu.Unlock()

	meta, err := s.artifacts.Get(ctx, modelID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get model")
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, err
		}
		return nil, &GenerationError{ModelID: modelID, Err: err}
	}

	weights := s.artifacts.WeightsPath(modelID)
	if meta.WeightsSHA256 != "" {
		if err := hash.Verify(ctx, weights, meta.WeightsSHA256); err != nil {
			logger.Logger.ErrorContext(ctx, "model weights failed verification", "modelID", modelID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "weights failed verification")
			return nil, &GenerationError{ModelID: modelID, Err: err}
		}
	}

	pipeline, err := s.loader.Load(ctx, weights)
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to load pipeline", "modelID", modelID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load pipeline")
		return nil, &GenerationError{ModelID: modelID, Err: err}
	}

	h := &handle{modelID: modelID, pipeline: pipeline}

	s.mu.Lock()
	if s.epochs[modelID] != epoch {
		s.mu.Unlock()
		closePipeline(h)
		span.RecordError(errStale)
		span.SetStatus(codes.Error, "model invalidated during load")
		return nil, errStale
	}
	s.handles[modelID] = h
	s.mu.Unlock()

	logger.Logger.InfoContext(ctx, "loaded pipeline", "modelID", modelID)
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "loaded pipeline")
	return h, nil
}

func (s *Server) release(h *handle) {
	s.mu.Lock()
	h.inUse--
	closeNow := h.evicted && h.inUse == 0
	s.mu.Unlock()

	if closeNow {
		closePipeline(h)
	}
}

func closePipeline(h *handle) {
	if err := h.pipeline.Close(); err != nil {
		logger.Logger.Warn("failed to close pipeline", "modelID", h.modelID, "error", err)
	}
}
