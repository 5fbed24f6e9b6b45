// Package client talks to the LoRA API over HTTP.
package client

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
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/types"
)

var tracer = otel.Tracer("github.com/museai/lora-api/cmd/loractl/internal/client")

var ErrJobFailed = errors.New("training job failed")

// APIError is any non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Body       types.Error
}

func (e *APIError) Error() string {
	if e.Body.Fields != nil && len(*e.Body.Fields) > 0 {
		parts := make([]string, 0, len(*e.Body.Fields))
		for field, msg := range *e.Body.Fields {
			parts = append(parts, field+": "+msg)
		}
		return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Body.Message, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client
}

type Options struct {
	Timeout  time.Duration
	RetryMax int
}

// New builds a client. Requests that were answered by the server are never
// retried for POST since training submissions are not idempotent.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url: %q", baseURL)
	}

	c := retryablehttp.NewClient()
	c.Logger = slog.New(logger.Handler)
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	if opts.Timeout > 0 {
		c.HTTPClient.Timeout = opts.Timeout
	}
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	// non-2xx answers are decoded into APIError instead of a retry error
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{baseURL: u, http: c}, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	ctx, span := tracer.Start(ctx, "Client.do", trace.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
	defer span.End()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal body")
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build request")
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response")
		return err
	}

	span.SetAttributes(attribute.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, &apiErr.Body); err != nil || apiErr.Body.Message == "" {
			apiErr.Body.Message = strings.TrimSpace(string(raw))
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "server returned an error")
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode response")
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "request succeeded")
	return nil
}

func (c *Client) Train(ctx context.Context, req types.TrainingRequest) (types.TrainingResponse, error) {
	var out types.TrainingResponse
	err := c.do(ctx, http.MethodPost, "/api/train/", req, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, jobID string) (types.TrainingStatus, error) {
	var out types.TrainingStatus
	err := c.do(ctx, http.MethodGet, "/api/training/"+url.PathEscape(jobID)+"/", nil, &out)
	return out, err
}

func (c *Client) Jobs(ctx context.Context) ([]types.TrainingStatus, error) {
	var out []types.TrainingStatus
	err := c.do(ctx, http.MethodGet, "/api/training/", nil, &out)
	return out, err
}

// Wait polls until the job reaches a terminal state. A failed job returns its
// final status together with ErrJobFailed.
func (c *Client) Wait(
	ctx context.Context,
	jobID string,
	interval time.Duration,
	onUpdate func(types.TrainingStatus),
) (types.TrainingStatus, error) {
	ctx, span := tracer.Start(ctx, "Client.Wait", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to poll job")
			return status, err
		}
		if onUpdate != nil {
			onUpdate(status)
		}

		switch status.Status {
		case "completed":
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "job completed")
			return status, nil
		case "failed":
			span.SetStatus(codes.Error, "job failed")
			return status, fmt.Errorf("%w: %s", ErrJobFailed, status.Message)
		}

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context cancelled")
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Models(ctx context.Context) ([]types.ModelInfo, error) {
	var out []types.ModelInfo
	err := c.do(ctx, http.MethodGet, "/api/models/", nil, &out)
	return out, err
}

func (c *Client) Model(ctx context.Context, modelID string) (types.ModelInfo, error) {
	var out types.ModelInfo
	err := c.do(ctx, http.MethodGet, "/api/models/"+url.PathEscape(modelID)+"/", nil, &out)
	return out, err
}

func (c *Client) DeleteModel(ctx context.Context, modelID string) (types.Message, error) {
	var out types.Message
	err := c.do(ctx, http.MethodDelete, "/api/models/"+url.PathEscape(modelID)+"/", nil, &out)
	return out, err
}

func (c *Client) Generate(ctx context.Context, req types.GenerationRequest) (types.GenerationResponse, error) {
	var out types.GenerationResponse
	err := c.do(ctx, http.MethodPost, "/api/generate/", req, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health/", nil, &out)
	return out, err
}
