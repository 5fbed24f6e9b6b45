package diffusion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Backend = (*Placeholder)(nil)

// Placeholder runs the training loop without a learning objective: it paces a
// fixed number of steps and writes a weights file that records the run. Images
// it generates are deterministic for a given weights file, prompt and seed.
type Placeholder struct {
	baseModel string
	stepDelay time.Duration
}

func NewPlaceholder(baseModel string, stepDelay time.Duration) *Placeholder {
	return &Placeholder{baseModel: baseModel, stepDelay: stepDelay}
}

func (p *Placeholder) GPUAvailable(_ context.Context) bool {
	return false
}

func (p *Placeholder) Setup(ctx context.Context, cfg TrainConfig) (Session, error) {
	ctx, span := tracer.Start(ctx, "Placeholder.Setup", trace.WithAttributes(
		attribute.Int("images", len(cfg.ImagePaths)),
		attribute.Int("steps", cfg.Steps),
	))
	defer span.End()

	if cfg.Steps <= 0 {
		err := fmt.Errorf("steps must be positive, got %d", cfg.Steps)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid step count")
		return nil, err
	}

	if len(cfg.ImagePaths) == 0 {
		err := errors.New("no training images")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no training images")
		return nil, err
	}

	h := sha256.New()
	for _, path := range cfg.ImagePaths {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context cancelled")
			return nil, err
		}

		f, err := os.Open(path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open training image")
			return nil, fmt.Errorf("failed to open training image %s: %w", filepath.Base(path), err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read training image")
			return nil, fmt.Errorf("failed to read training image %s: %w", filepath.Base(path), err)
		}
	}

	if cfg.BaseModel == "" {
		cfg.BaseModel = p.baseModel
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "prepared session")
	return &placeholderSession{
		cfg:       cfg,
		stepDelay: p.stepDelay,
		imageSum:  fmt.Sprintf("%x", h.Sum(nil)),
	}, nil
}

type placeholderSession struct {
	cfg       TrainConfig
	stepDelay time.Duration
	imageSum  string
	completed int
}

func (s *placeholderSession) Train(ctx context.Context, progress ProgressFunc) error {
	ctx, span := tracer.Start(ctx, "placeholderSession.Train", trace.WithAttributes(
		attribute.Int("steps", s.cfg.Steps),
	))
	defer span.End()

	var ticker *time.Ticker
	if s.stepDelay > 0 {
		ticker = time.NewTicker(s.stepDelay)
		defer ticker.Stop()
	}

	for step := 1; step <= s.cfg.Steps; step++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context cancelled")
			return err
		}

		s.completed = step
		if progress != nil {
			progress(step, s.cfg.Steps)
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "trained")
	return nil
}

// placeholder weights are a safetensors file holding no tensors, only metadata
type weightsHeader struct {
	Metadata map[string]string `json:"__metadata__"`
}

func (s *placeholderSession) Save(ctx context.Context, weightsPath string) error {
	_, span := tracer.Start(ctx, "placeholderSession.Save", trace.WithAttributes(
		attribute.String("weightsPath", weightsPath),
	))
	defer span.End()

	if s.completed != s.cfg.Steps {
		err := fmt.Errorf("training incomplete: %d/%d steps", s.completed, s.cfg.Steps)
		span.RecordError(err)
		span.SetStatus(codes.Error, "training incomplete")
		return err
	}

	header, err := json.Marshal(weightsHeader{Metadata: map[string]string{
		"format":        "lora-placeholder",
		"base_model":    s.cfg.BaseModel,
		"steps":         fmt.Sprint(s.cfg.Steps),
		"learning_rate": fmt.Sprint(s.cfg.LearningRate),
		"resolution":    fmt.Sprint(s.cfg.Resolution),
		"images_sha256": s.imageSum,
	}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal header")
		return err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(header))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write header length")
		return err
	}
	buf.Write(header)

	if err := os.WriteFile(weightsPath, buf.Bytes(), 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write weights")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "saved weights")
	return nil
}

func (s *placeholderSession) Close() error {
	return nil
}

func (p *Placeholder) Load(ctx context.Context, weightsPath string) (Pipeline, error) {
	_, span := tracer.Start(ctx, "Placeholder.Load", trace.WithAttributes(
		attribute.String("weightsPath", weightsPath),
	))
	defer span.End()

	raw, err := os.ReadFile(weightsPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read weights")
		return nil, err
	}

	if len(raw) < 8 {
		err = errors.New("weights file too short")
		span.RecordError(err)
		span.SetStatus(codes.Error, "weights file too short")
		return nil, err
	}

	size := binary.LittleEndian.Uint64(raw[:8])
	if size > uint64(len(raw)-8) {
		err = errors.New("weights header length out of range")
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad weights header")
		return nil, err
	}

	var header weightsHeader
	if err := json.Unmarshal(raw[8:8+size], &header); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad weights header")
		return nil, fmt.Errorf("failed to parse weights header: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "loaded pipeline")
	return &placeholderPipeline{fingerprint: sha256.Sum256(raw)}, nil
}

type placeholderPipeline struct {
	fingerprint [32]byte
}

func (p *placeholderPipeline) Generate(ctx context.Context, params GenerateParams) ([]byte, error) {
	_, span := tracer.Start(ctx, "placeholderPipeline.Generate", trace.WithAttributes(
		attribute.Int("width", params.Width),
		attribute.Int("height", params.Height),
		attribute.Int("steps", params.Steps),
	))
	defer span.End()

	if params.Width <= 0 || params.Height <= 0 {
		err := fmt.Errorf("invalid size %dx%d", params.Width, params.Height)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid size")
		return nil, err
	}

	seed := rand.Int64()
	if params.Seed != nil {
		seed = *params.Seed
	}

	h := sha256.New()
	h.Write(p.fingerprint[:])
	h.Write([]byte(params.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(params.NegativePrompt))
	_ = binary.Write(h, binary.LittleEndian, seed)
	sum := h.Sum(nil)

	from := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	to := color.RGBA{R: sum[3], G: sum[4], B: sum[5], A: 0xff}
	bands := 2 + int(math.Round(params.GuidanceScale))

	img := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	for y := range params.Height {
		t := float64(y) / float64(params.Height)
		for x := range params.Width {
			c := lerp(from, to, t)
			if (x*bands/params.Width)%2 == 1 {
				c.R, c.G, c.B = c.G, c.B, c.R
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode png")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "generated image")
	return buf.Bytes(), nil
}

func (p *placeholderPipeline) Close() error {
	return nil
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xff}
}
