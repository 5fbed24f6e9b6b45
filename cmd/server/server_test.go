package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/validator"
)

type ServerTestSuite struct {
	suite.Suite
	srv        *server
	httpServer *httptest.Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Storage: &config.StorageConfig{
			ModelsDir:    filepath.Join(dir, "models"),
			UploadsDir:   filepath.Join(dir, "uploads"),
			GeneratedDir: filepath.Join(dir, "generated"),
			WorkDir:      filepath.Join(dir, "work"),
		},
		Backend: &config.BackendConfig{
			Kind: config.BackendPlaceholder,
		},
		Logging:              &config.LoggingConfig{},
		Mirror:               &config.MirrorConfig{Kind: config.MirrorNone},
		BaseModel:            config.DefaultBaseModel,
		ListenAddress:        "127.0.0.1:0",
		GracefulShutdownSecs: 5,
	}
}

func (s *ServerTestSuite) SetupSuite() {
	logger.InitSlog()

	srv, err := newServer(context.Background(), testConfig(s.T().TempDir()))
	s.Require().NoError(err, "failed to build server")

	s.srv = srv
	s.httpServer = httptest.NewServer(srv.router)
}

func (s *ServerTestSuite) TearDownSuite() {
	s.httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.NoError(s.srv.supervisor.Shutdown(ctx))
	s.srv.inference.Close()
}

func images(n int) []string {
	out := make([]string, n)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for x := range 8 {
			for y := range 8 {
				img.Set(x, y, color.RGBA{R: uint8(i * 40), G: uint8(x * 32), B: uint8(y * 32), A: 255})
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			panic(err)
		}
		out[i] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out
}

func (s *ServerTestSuite) do(method string, path string, body any) (*http.Response, []byte) {
	t := s.T()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.httpServer.URL+path, reader)
	require.NoError(t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpServer.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (s *ServerTestSuite) train(req map[string]any) types.TrainingResponse {
	resp, body := s.do(http.MethodPost, "/api/train/", req)
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))

	var out types.TrainingResponse
	s.Require().NoError(json.Unmarshal(body, &out))
	return out
}

func (s *ServerTestSuite) waitForJob(jobID string) types.TrainingStatus {
	var status types.TrainingStatus
	s.Require().Eventually(func() bool {
		resp, body := s.do(http.MethodGet, "/api/training/"+jobID+"/", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		status = types.TrainingStatus{}
		if err := json.Unmarshal(body, &status); err != nil {
			return false
		}
		return status.Status == "completed" || status.Status == "failed"
	}, 10*time.Second, 20*time.Millisecond)
	return status
}

func (s *ServerTestSuite) TestHealth() {
	resp, _ := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	before := time.Now().Add(-time.Second)
	resp, body := s.do(http.MethodGet, "/api/health", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var health types.HealthResponse
	s.Require().NoError(json.Unmarshal(body, &health))
	s.Equal("healthy", health.Status)
	s.False(health.GPUAvailable, "placeholder backend has no gpu")
	s.GreaterOrEqual(health.ActiveJobs, 0)
	s.GreaterOrEqual(health.LoadedModels, 0)
	s.True(health.Timestamp.After(before))
}

func (s *ServerTestSuite) TestTrainValidation() {
	tests := []struct {
		name       string
		body       any
		statusCode int
	}{
		{
			name:       "too few images",
			body:       map[string]any{"model_name": "few", "images": images(4), "training_steps": 100},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "minimum images",
			body:       map[string]any{"model_name": "five", "images": images(5), "training_steps": 100},
			statusCode: http.StatusOK,
		},
		{
			name:       "maximum images",
			body:       map[string]any{"model_name": "twenty", "images": images(20), "training_steps": 100},
			statusCode: http.StatusOK,
		},
		{
			name:       "too many images",
			body:       map[string]any{"model_name": "many", "images": images(21), "training_steps": 100},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "missing model name",
			body:       map[string]any{"images": images(5)},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "too few steps",
			body:       map[string]any{"model_name": "steps", "images": images(5), "training_steps": 99},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "learning rate too high",
			body:       map[string]any{"model_name": "lr", "images": images(5), "learning_rate": 0.01},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "resolution too low",
			body:       map[string]any{"model_name": "res", "images": images(5), "resolution": 256},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"model_name": `,
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp, body := s.do(http.MethodPost, "/api/train", tt.body)
			s.Equal(tt.statusCode, resp.StatusCode, string(body))

			if tt.statusCode == http.StatusOK {
				var out types.TrainingResponse
				s.Require().NoError(json.Unmarshal(body, &out))
				s.Equal("Training started", out.Message)
				s.NotEmpty(out.JobID)
				s.waitForJob(out.JobID)
			} else {
				var out types.Error
				s.Require().NoError(json.Unmarshal(body, &out))
				s.NotEmpty(out.Message)
			}
		})
	}
}

func (s *ServerTestSuite) TestTrainOversizedImage() {
	oversized := base64.StdEncoding.EncodeToString(make([]byte, validator.MaxImageBytes+1))
	imgs := append(images(4), oversized)

	resp, body := s.do(http.MethodPost, "/api/train/", map[string]any{
		"model_name": "big",
		"images":     imgs,
	})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode, string(body))

	var out types.Error
	s.Require().NoError(json.Unmarshal(body, &out))
	s.Require().NotNil(out.Fields)
	s.Contains((*out.Fields)["images"], "image 4")
}

func (s *ServerTestSuite) TestTrainingNotFound() {
	resp, body := s.do(http.MethodGet, "/api/training/does-not-exist/", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.JSONEq(`{"message":"job not found"}`, string(body))
}

func (s *ServerTestSuite) TestListTraining() {
	started := s.train(map[string]any{"model_name": "listed", "images": images(5), "training_steps": 100})
	s.waitForJob(started.JobID)

	resp, body := s.do(http.MethodGet, "/api/training/", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var statuses []types.TrainingStatus
	s.Require().NoError(json.Unmarshal(body, &statuses))

	found := false
	for _, st := range statuses {
		if st.JobID == started.JobID {
			found = true
			s.Equal("completed", st.Status)
		}
	}
	s.True(found, "submitted job should be listed")
}

func (s *ServerTestSuite) TestModelNotFound() {
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		resp, body := s.do(method, "/api/models/lora_missing/", nil)
		s.Equal(http.StatusNotFound, resp.StatusCode, method)
		s.JSONEq(`{"message":"model not found"}`, string(body))
	}

	resp, _ := s.do(http.MethodGet, "/api/models/..%2Fescape/", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *ServerTestSuite) TestGenerateValidation() {
	tests := []struct {
		name       string
		body       map[string]any
		statusCode int
	}{
		{
			name:       "missing prompt",
			body:       map[string]any{"model_id": "lora_x"},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "too few steps",
			body:       map[string]any{"model_id": "lora_x", "prompt": "a cat", "num_steps": 19},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "guidance too high",
			body:       map[string]any{"model_id": "lora_x", "prompt": "a cat", "guidance_scale": 21},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "width too large",
			body:       map[string]any{"model_id": "lora_x", "prompt": "a cat", "width": 2048},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "unknown model",
			body:       map[string]any{"model_id": "lora_unknown", "prompt": "a cat"},
			statusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp, body := s.do(http.MethodPost, "/api/generate/", tt.body)
			s.Equal(tt.statusCode, resp.StatusCode, string(body))
		})
	}
}

func (s *ServerTestSuite) TestEndToEnd() {
	started := s.train(map[string]any{
		"model_name":     "end to end",
		"images":         images(5),
		"training_steps": 100,
	})

	status := s.waitForJob(started.JobID)
	s.Require().Equal("completed", status.Status, status.Message)
	s.Equal(100.0, status.Progress)
	s.Equal(orchestrator.MsgCompleted, status.Message)
	s.Require().NotNil(status.ModelID)
	modelID := *status.ModelID
	s.Equal("lora_"+started.JobID, modelID)

	s.Run("ListModels", func() {
		resp, body := s.do(http.MethodGet, "/api/models/", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var models []types.ModelInfo
		s.Require().NoError(json.Unmarshal(body, &models))
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ModelID)
		}
		s.Contains(ids, modelID)
	})

	s.Run("GetModel", func() {
		resp, body := s.do(http.MethodGet, "/api/models/"+modelID, nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)

		var model types.ModelInfo
		s.Require().NoError(json.Unmarshal(body, &model))
		s.Equal("end to end", model.Name)
		s.Equal("ready", model.Status)
		s.Equal(100, model.Config.TrainingSteps)
		s.Equal(5, model.Config.ImageCount)
	})

	generate := map[string]any{"model_id": modelID, "prompt": "a photo of sks dog", "seed": int64(42)}

	// 42 twice: a seed already used for this model must still generate
	for i, seed := range []int64{42, 7, 42} {
		s.Run(fmt.Sprintf("Generate%dSeed%d", i, seed), func() {
			resp, body := s.do(http.MethodPost, "/api/generate/", map[string]any{
				"model_id": modelID,
				"prompt":   "a photo of sks dog",
				"seed":     seed,
			})
			s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))

			var out types.GenerationResponse
			s.Require().NoError(json.Unmarshal(body, &out))
			s.NotEmpty(out.ImageID)
			s.Equal(modelID, out.ModelID)
			s.Equal("a photo of sks dog", out.Prompt)
			s.Require().NotNil(out.Seed)
			s.Equal(seed, *out.Seed)
			s.Nil(out.ImageURL, "no mirror configured")
			s.True(strings.HasPrefix(out.ImageData, "data:image/png;base64,"))

			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out.ImageData, "data:image/png;base64,"))
			s.NoError(err)
			s.NotEmpty(raw)
		})
	}

	s.Run("Delete", func() {
		resp, body := s.do(http.MethodDelete, "/api/models/"+modelID+"/", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		s.JSONEq(`{"message":"Model deleted successfully"}`, string(body))

		resp, _ = s.do(http.MethodGet, "/api/models/"+modelID+"/", nil)
		s.Equal(http.StatusNotFound, resp.StatusCode)

		resp, _ = s.do(http.MethodPost, "/api/generate/", generate)
		s.Equal(http.StatusNotFound, resp.StatusCode, "deleted model must not keep generating")
	})
}

func (s *ServerTestSuite) TestMetrics() {
	resp, body := s.do(http.MethodGet, "/metrics/", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Contains(string(body), "loraapi_resident_models")
}

func TestNewBackend(t *testing.T) {
	cfg := testConfig(t.TempDir())

	backend, err := newBackend(cfg)
	require.NoError(t, err)
	assert.False(t, backend.GPUAvailable(context.Background()))

	cfg.Backend = &config.BackendConfig{Kind: config.BackendRemote, URL: "http://localhost:7860"}
	_, err = newBackend(cfg)
	require.NoError(t, err)

	cfg.Backend = &config.BackendConfig{Kind: "gpu"}
	_, err = newBackend(cfg)
	require.Error(t, err)
}
