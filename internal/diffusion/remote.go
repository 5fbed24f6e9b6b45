package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/logger"
)

var _ Backend = (*Remote)(nil)

// Remote drives a diffusion worker over HTTP. The worker must see the same
// file system paths as this process (shared volume) since images and weights
// are exchanged by path.
type Remote struct {
	client       *retryablehttp.Client
	baseURL      *url.URL
	baseModel    string
	pollInterval time.Duration
}

type RemoteOptions struct {
	BaseModel      string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RetryMax       int
}

// StatusError is returned when the worker answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("diffusion worker returned %d: %s", e.Code, e.Body)
}

func NewRemote(baseURL string, opts RemoteOptions) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid diffusion worker url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid diffusion worker url: %q", baseURL)
	}

	client := retryablehttp.NewClient()
	client.Logger = slog.New(logger.Handler)
	client.RetryMax = 3
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	if opts.RequestTimeout > 0 {
		client.HTTPClient.Timeout = opts.RequestTimeout
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Remote{
		client:       client,
		baseURL:      u,
		baseModel:    opts.BaseModel,
		pollInterval: pollInterval,
	}, nil
}

func (r *Remote) GPUAvailable(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "Remote.GPUAvailable")
	defer span.End()

	var device struct {
		GPUAvailable bool `json:"gpu_available"`
	}
	if err := r.do(ctx, http.MethodGet, "/v1/device", nil, &device); err != nil {
		logger.Logger.WarnContext(ctx, "failed to query diffusion worker device", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query device")
		return false
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "queried device")
	return device.GPUAvailable
}

type sessionRequest struct {
	BaseModel    string   `json:"base_model"`
	ImagePaths   []string `json:"image_paths"`
	Steps        int      `json:"steps"`
	LearningRate float64  `json:"learning_rate"`
	Resolution   int      `json:"resolution"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (r *Remote) Setup(ctx context.Context, cfg TrainConfig) (Session, error) {
	ctx, span := tracer.Start(ctx, "Remote.Setup", trace.WithAttributes(
		attribute.Int("images", len(cfg.ImagePaths)),
		attribute.Int("steps", cfg.Steps),
	))
	defer span.End()

	baseModel := cfg.BaseModel
	if baseModel == "" {
		baseModel = r.baseModel
	}

	var created idResponse
	err := r.do(ctx, http.MethodPost, "/v1/sessions", sessionRequest{
		BaseModel:    baseModel,
		ImagePaths:   cfg.ImagePaths,
		Steps:        cfg.Steps,
		LearningRate: cfg.LearningRate,
		Resolution:   cfg.Resolution,
	}, &created)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		return nil, err
	}

	span.SetAttributes(attribute.String("session.id", created.ID))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created session")
	return &remoteSession{remote: r, id: created.ID}, nil
}

type remoteSession struct {
	remote *Remote
	id     string
}

type sessionStatus struct {
	State          string `json:"state"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	Error          string `json:"error"`
}

const (
	sessionRunning = "running"
	sessionDone    = "done"
	sessionFailed  = "failed"
)

func (s *remoteSession) path(suffix string) string {
	return "/v1/sessions/" + url.PathEscape(s.id) + suffix
}

func (s *remoteSession) Train(ctx context.Context, progress ProgressFunc) error {
	ctx, span := tracer.Start(ctx, "remoteSession.Train", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	defer span.End()

	if err := s.remote.do(ctx, http.MethodPost, s.path("/train"), nil, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start training")
		return err
	}

	ticker := time.NewTicker(s.remote.pollInterval)
	defer ticker.Stop()

	reported := 0
	for {
		var status sessionStatus
		if err := s.remote.do(ctx, http.MethodGet, s.path(""), nil, &status); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to poll session")
			return err
		}

		// the worker reports in batches, replay every step so callers see each one
		for step := reported + 1; step <= status.CompletedSteps && progress != nil; step++ {
			progress(step, status.TotalSteps)
		}
		reported = max(reported, status.CompletedSteps)

		switch status.State {
		case sessionDone:
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "trained")
			return nil
		case sessionFailed:
			err := fmt.Errorf("training failed on worker: %s", status.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, "training failed on worker")
			return err
		case sessionRunning:
		default:
			err := fmt.Errorf("unknown session state %q", status.State)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown session state")
			return err
		}

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *remoteSession) Save(ctx context.Context, weightsPath string) error {
	ctx, span := tracer.Start(ctx, "remoteSession.Save", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("weightsPath", weightsPath),
	))
	defer span.End()

	body := map[string]string{"path": weightsPath}
	if err := s.remote.do(ctx, http.MethodPost, s.path("/save"), body, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save weights")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "saved weights")
	return nil
}

func (s *remoteSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.remote.do(ctx, http.MethodDelete, s.path(""), nil, nil)
}

func (r *Remote) Load(ctx context.Context, weightsPath string) (Pipeline, error) {
	ctx, span := tracer.Start(ctx, "Remote.Load", trace.WithAttributes(
		attribute.String("weightsPath", weightsPath),
	))
	defer span.End()

	var created idResponse
	err := r.do(ctx, http.MethodPost, "/v1/pipelines", map[string]string{
		"base_model":   r.baseModel,
		"weights_path": weightsPath,
	}, &created)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load pipeline")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "loaded pipeline")
	return &remotePipeline{remote: r, id: created.ID}, nil
}

type remotePipeline struct {
	remote *Remote
	id     string
}

type generateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Steps          int     `json:"num_inference_steps"`
	Seed           *int64  `json:"seed"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

func (p *remotePipeline) path(suffix string) string {
	return "/v1/pipelines/" + url.PathEscape(p.id) + suffix
}

func (p *remotePipeline) Generate(ctx context.Context, params GenerateParams) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "remotePipeline.Generate", trace.WithAttributes(
		attribute.String("pipeline.id", p.id),
	))
	defer span.End()

	var image bytes.Buffer
	err := p.remote.do(ctx, http.MethodPost, p.path("/generate"), generateRequest{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		GuidanceScale:  params.GuidanceScale,
		Steps:          params.Steps,
		Seed:           params.Seed,
		Width:          params.Width,
		Height:         params.Height,
	}, &image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "generated image")
	return image.Bytes(), nil
}

func (p *remotePipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.remote.do(ctx, http.MethodDelete, p.path(""), nil, nil)
}

// do sends body as JSON and decodes the response into out. A *bytes.Buffer out
// receives the raw body instead.
func (r *Remote) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, r.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err = io.Copy(o, resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("empty response from diffusion worker")
			}
			return err
		}
		return nil
	}
}
