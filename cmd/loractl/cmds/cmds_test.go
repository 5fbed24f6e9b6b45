package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/internal/exitcode"
	"github.com/museai/lora-api/internal/gallery"
	"github.com/museai/lora-api/internal/types"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, server *httptest.Server, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--server", server.URL}, args...))

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee exitcode.ExitError
	require.True(t, errors.As(err, &ee), "expected an exit error, got %v", err)
	return ee.Code
}

func imageFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "img"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte("\x89PNG\r\n\x1a\nimage"), 0o600))
	}
	return paths
}

func TestTrain(t *testing.T) {
	modelID := "lora_job-1"
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/train/", func(w http.ResponseWriter, r *http.Request) {
		var req types.TrainingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "portraits", req.ModelName)
		assert.Equal(t, 200, req.TrainingSteps)
		assert.Equal(t, 512, req.Resolution, "unset flags keep the defaults")
		require.Len(t, req.Images, 5)
		for _, image := range req.Images {
			assert.True(t, strings.HasPrefix(image, "data:image/png;base64,"), image)
		}
		writeJSON(w, http.StatusOK, types.TrainingResponse{JobID: "job-1", Message: "Training started"})
	})
	mux.HandleFunc("GET /api/training/{id}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, types.TrainingStatus{
			JobID: "job-1", Status: "completed", Progress: 100, Message: "done", ModelID: &modelID,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	t.Run("Started", func(t *testing.T) {
		args := append([]string{"train", "--name", "portraits", "--steps", "200"}, imageFiles(t, 5)...)
		stdout, _, err := run(t, server, args...)
		require.NoError(t, err)

		var out types.TrainingResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, "job-1", out.JobID)
	})

	t.Run("Wait", func(t *testing.T) {
		args := append(
			[]string{"train", "--name", "portraits", "--steps", "200", "--wait", "--interval", "1ms"},
			imageFiles(t, 5)...,
		)
		stdout, stderr, err := run(t, server, args...)
		require.NoError(t, err)

		var out types.TrainingStatus
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, "completed", out.Status)
		assert.Contains(t, stderr, "completed 100.0% done")
	})

	t.Run("RemoteImages", func(t *testing.T) {
		images := http.NewServeMux()
		images.HandleFunc("GET /img/{name}", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nremote"))
		})
		imageServer := httptest.NewServer(images)
		defer imageServer.Close()

		args := []string{"train", "--name", "portraits", "--steps", "200"}
		args = append(args, imageFiles(t, 3)...)
		args = append(args, imageServer.URL+"/img/a.png", imageServer.URL+"/img/b.png")
		_, _, err := run(t, server, args...)
		require.NoError(t, err)
	})

	t.Run("RemoteImageMissing", func(t *testing.T) {
		missing := httptest.NewServer(http.NotFoundHandler())
		defer missing.Close()

		args := append([]string{"train", "--name", "portraits"}, imageFiles(t, 4)...)
		args = append(args, missing.URL+"/gone.png")
		_, _, err := run(t, server, args...)
		require.Error(t, err)
		assert.Equal(t, exitcode.Errored, exitCode(t, err))
	})

	t.Run("MissingImage", func(t *testing.T) {
		_, _, err := run(t, server, "train", "--name", "portraits", "/does/not/exist.png")
		require.Error(t, err)
		assert.Equal(t, exitcode.Errored, exitCode(t, err))
	})
}

func TestWaitFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/training/{id}/", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			writeJSON(w, http.StatusNotFound, types.StringError("job not found"))
			return
		}
		writeJSON(w, http.StatusOK, types.TrainingStatus{
			JobID: "job-1", Status: "failed", Message: "Training failed: bad image",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	stdout, _, err := run(t, server, "wait", "job-1", "--interval", "1ms")
	require.Error(t, err)
	assert.Equal(t, exitcode.JobFailed, exitCode(t, err))
	assert.Contains(t, stdout, `"status": "failed"`)

	_, _, err = run(t, server, "wait", "missing", "--interval", "1ms")
	require.Error(t, err)
	assert.Equal(t, exitcode.NotFound, exitCode(t, err))

	_, _, err = run(t, server, "status", "missing")
	require.Error(t, err)
	assert.Equal(t, exitcode.NotFound, exitCode(t, err))
}

func TestModels(t *testing.T) {
	model := types.ModelInfo{
		ModelID:      "lora_a",
		Name:         "style",
		TrainingTime: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Status:       "ready",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []types.ModelInfo{model})
	})
	mux.HandleFunc("GET /api/models/{id}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, model)
	})
	mux.HandleFunc("DELETE /api/models/{id}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, types.Message{Message: "Model deleted successfully"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	stdout, _, err := run(t, server, "models", "list", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "model_id: lora_a")
	assert.Contains(t, stdout, "status: ready")

	stdout, _, err = run(t, server, "models", "get", "lora_a")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"name": "style"`)

	stdout, _, err = run(t, server, "models", "delete", "lora_a")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Model deleted successfully")
}

func TestGenerate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate/", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lora_a", req.ModelID)
		assert.Equal(t, 30, req.NumSteps)
		require.NotNil(t, req.Seed)
		assert.Equal(t, int64(7), *req.Seed)

		writeJSON(w, http.StatusOK, types.GenerationResponse{
			ImageID:   "img-1",
			ImageData: gallery.DataURI([]byte("png bytes")),
			Prompt:    req.Prompt,
			Seed:      req.Seed,
			ModelID:   req.ModelID,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out := filepath.Join(t.TempDir(), "out.png")
	stdout, _, err := run(t, server, "generate", "--model", "lora_a", "--prompt", "a cat", "--seed", "7", "--out", out)
	require.NoError(t, err)

	saved, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(saved))
	assert.Contains(t, stdout, `"image_id": "img-1"`)
	assert.NotContains(t, stdout, "base64")
}

func TestHealthAndOutputFormat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy", LoadedModels: 1})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	stdout, _, err := run(t, server, "health", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "status: healthy")
	assert.Contains(t, stdout, "loaded_models: 1")

	_, _, err = run(t, server, "health", "-o", "xml")
	require.Error(t, err)
	assert.Equal(t, exitcode.Errored, exitCode(t, err))
}

func TestDecodeDataURI(t *testing.T) {
	raw, err := decodeDataURI(gallery.DataURI([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "x", string(raw))

	_, err = decodeDataURI("eA==")
	require.Error(t, err)
}
