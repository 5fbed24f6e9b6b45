package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/cmd/loractl/internal/client"
	"github.com/museai/lora-api/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, handler http.Handler) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL, client.Options{Timeout: 5 * time.Second, RetryMax: 2})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := client.New("not a url", client.Options{})
	require.Error(t, err)
}

func TestTrain(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/train/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req types.TrainingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "style", req.ModelName)
		writeJSON(w, http.StatusOK, types.TrainingResponse{JobID: "job-1", Message: "Training started"})
	})

	c := newClient(t, mux)
	resp, err := c.Train(context.Background(), types.TrainingRequest{ModelName: "style"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, types.StringError("generation failed"))
	})

	c := newClient(t, mux)
	_, err := c.Generate(context.Background(), types.GenerationRequest{ModelID: "lora_a", Prompt: "a cat"})

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "generation failed", apiErr.Body.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetIsRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health/", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy", ActiveJobs: 1})
	})

	c := newClient(t, mux)
	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.EqualValues(t, 2, calls.Load())
}

func TestNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models/{id}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, types.StringError("model not found"))
	})

	c := newClient(t, mux)
	_, err := c.Model(context.Background(), "lora_missing")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestValidationErrorMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/train/", func(w http.ResponseWriter, _ *http.Request) {
		fields := map[string]string{"images": "must have at least 5 items"}
		writeJSON(w, http.StatusBadRequest, types.Error{Message: "validation error", Fields: &fields})
	})

	c := newClient(t, mux)
	_, err := c.Train(context.Background(), types.TrainingRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "images: must have at least 5 items")
	assert.False(t, client.IsNotFound(err))
}

func TestWait(t *testing.T) {
	modelID := "lora_job-1"
	t.Run("Completed", func(t *testing.T) {
		var polls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/training/{id}/", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "job-1", r.PathValue("id"))
			if polls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, types.TrainingStatus{JobID: "job-1", Status: "training", Progress: 50})
				return
			}
			writeJSON(w, http.StatusOK, types.TrainingStatus{
				JobID: "job-1", Status: "completed", Progress: 100, ModelID: &modelID,
			})
		})

		c := newClient(t, mux)
		var seen []float64
		status, err := c.Wait(context.Background(), "job-1", time.Millisecond, func(s types.TrainingStatus) {
			seen = append(seen, s.Progress)
		})
		require.NoError(t, err)
		assert.Equal(t, "completed", status.Status)
		assert.Equal(t, []float64{50, 50, 100}, seen)
	})

	t.Run("Failed", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/training/{id}/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, types.TrainingStatus{
				JobID: "job-1", Status: "failed", Message: "Training failed: bad image",
			})
		})

		c := newClient(t, mux)
		status, err := c.Wait(context.Background(), "job-1", time.Millisecond, nil)
		require.ErrorIs(t, err, client.ErrJobFailed)
		assert.Equal(t, "failed", status.Status)
		assert.Contains(t, err.Error(), "bad image")
	})

	t.Run("Cancelled", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/training/{id}/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, types.TrainingStatus{JobID: "job-1", Status: "queued"})
		})

		c := newClient(t, mux)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.Wait(ctx, "job-1", 10*time.Millisecond, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
