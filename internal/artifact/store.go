// Package artifact is the file-system registry of trained LoRA models.
//
// Each model lives in its own directory under the store root:
//
//	<root>/<model_id>/lora_weights.safetensors
//	<root>/<model_id>/metadata.json
//
// Directories are assembled under a hidden staging name and published with a
// single rename, so a visible model directory always has its metadata.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cp "github.com/otiai10/copy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/hash"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/types"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/artifact")

const (
	MetadataFile = "metadata.json"
	WeightsFile  = "lora_weights.safetensors"
	StatusReady  = "ready"

	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

var (
	ErrNotFound  = errors.New("model not found")
	ErrExists    = errors.New("model already exists")
	ErrInvalidID = errors.New("invalid model id")
	ErrCorrupt   = errors.New("model metadata is corrupt")
)

type Metadata struct {
	ModelID       string               `json:"model_id"`
	Name          string               `json:"name"`
	TrainingTime  time.Time            `json:"training_time"`
	Config        types.TrainingConfig `json:"config"`
	Status        string               `json:"status"`
	WeightsSHA256 string               `json:"weights_sha256,omitempty"`
}

func (m Metadata) Info() types.ModelInfo {
	return types.ModelInfo{
		ModelID:      m.ModelID,
		Name:         m.Name,
		TrainingTime: m.TrainingTime,
		Status:       m.Status,
		Config:       m.Config,
	}
}

// Model id used for the artifact produced by a training job
func IDForJob(jobID string) string {
	return "lora_" + jobID
}

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model store: %w", err)
	}

	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Dir(modelID string) string {
	return filepath.Join(s.root, modelID)
}

func (s *Store) WeightsPath(modelID string) string {
	return filepath.Join(s.root, modelID, WeightsFile)
}

// Put publishes a new model built from the weights in weightsDir. The status is
// always set to ready and the weights checksum is computed here.
func (s *Store) Put(ctx context.Context, meta Metadata, weightsDir string) error {
	ctx, span := tracer.Start(ctx, "Store.Put", trace.WithAttributes(
		attribute.String("model.id", meta.ModelID),
		attribute.String("weightsDir", weightsDir),
	))
	defer span.End()

	if err := checkID(meta.ModelID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid model id")
		return err
	}

	final := s.Dir(meta.ModelID)
	if _, err := os.Stat(final); err == nil {
		span.RecordError(ErrExists)
		span.SetStatus(codes.Error, "model already exists")
		return fmt.Errorf("%w: %s", ErrExists, meta.ModelID)
	}

	staging, err := os.MkdirTemp(s.root, stagingPrefix+meta.ModelID+"-")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create staging directory")
		return err
	}
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(staging); err != nil {
				logger.Logger.WarnContext(ctx, "failed to clean staging directory",
					"path", staging, "error", err)
			}
		}
	}()

	span.AddEvent("copying weights into staging")
	if err := cp.Copy(weightsDir, staging); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy weights")
		return fmt.Errorf("failed to copy weights: %w", err)
	}

	sum, err := hash.File(ctx, filepath.Join(staging, WeightsFile))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weights payload missing")
		return fmt.Errorf("weights payload missing: %w", err)
	}

	meta.Status = StatusReady
	meta.WeightsSHA256 = sum
	if meta.TrainingTime.IsZero() {
		meta.TrainingTime = time.Now().UTC()
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal metadata")
		return err
	}

	if err := os.WriteFile(filepath.Join(staging, MetadataFile), raw, 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write metadata")
		return err
	}

	span.AddEvent("publishing staged model")
	if err := os.Rename(staging, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			err = fmt.Errorf("%w: %s", ErrExists, meta.ModelID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish model")
		return err
	}
	published = true

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "stored model")
	return nil
}

func (s *Store) Get(ctx context.Context, modelID string) (Metadata, error) {
	_, span := tracer.Start(ctx, "Store.Get", trace.WithAttributes(
		attribute.String("model.id", modelID),
	))
	defer span.End()

	if err := checkID(modelID); err != nil {
		// an id that can never be stored is simply not there
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "invalid model id")
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}

	meta, err := s.read(modelID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrNotFound) {
			span.SetStatus(codes.Ok, "model not found")
		} else {
			span.SetStatus(codes.Error, "failed to read metadata")
		}
		return Metadata{}, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "read metadata")
	return meta, nil
}

// List returns every model with readable metadata. Directories whose metadata
// is missing or corrupt are skipped.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	ctx, span := tracer.Start(ctx, "Store.List")
	defer span.End()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read model store")
		return nil, err
	}

	models := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		meta, err := s.read(entry.Name())
		if err != nil {
			logger.Logger.WarnContext(ctx, "skipping unreadable model",
				"model_id", entry.Name(), "error", err)
			continue
		}

		models = append(models, meta)
	}

	sort.Slice(models, func(i, j int) bool {
		if models[i].TrainingTime.Equal(models[j].TrainingTime) {
			return models[i].ModelID < models[j].ModelID
		}
		return models[i].TrainingTime.Before(models[j].TrainingTime)
	})

	span.SetAttributes(attribute.Int("count", len(models)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed models")
	return models, nil
}

// Delete removes a model and everything in its directory. The directory is
// renamed out of view first so readers never see a half-deleted model.
func (s *Store) Delete(ctx context.Context, modelID string) error {
	ctx, span := tracer.Start(ctx, "Store.Delete", trace.WithAttributes(
		attribute.String("model.id", modelID),
	))
	defer span.End()

	if err := checkID(modelID); err != nil {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "invalid model id")
		return fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}

	trash, err := os.MkdirTemp(s.root, trashPrefix+modelID+"-")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create trash directory")
		return err
	}
	defer func() {
		if err := os.RemoveAll(trash); err != nil {
			logger.Logger.WarnContext(ctx, "failed to remove deleted model",
				"path", trash, "error", err)
		}
	}()

	target := filepath.Join(trash, modelID)
	if err := os.Rename(s.Dir(modelID), target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "model not found")
			return fmt.Errorf("%w: %s", ErrNotFound, modelID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move model out of the store")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "deleted model")
	return nil
}

func (s *Store) read(modelID string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir(modelID), MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, modelID)
		}
		return Metadata{}, err
	}

	var doc any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, modelID, err)
	}

	if err := metadataSchema.Validate(doc); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, modelID, err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, modelID, err)
	}

	return meta, nil
}

func checkID(modelID string) error {
	if modelID == "" ||
		strings.HasPrefix(modelID, ".") ||
		strings.ContainsAny(modelID, `/\`) ||
		filepath.Base(modelID) != modelID {
		return fmt.Errorf("%w: %q", ErrInvalidID, modelID)
	}

	return nil
}
