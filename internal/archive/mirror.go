package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/artifact"
	"github.com/museai/lora-api/internal/audit"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/upload"
)

var _ orchestrator.Observer = (*Mirror)(nil)

type WeightsLocator interface {
	WeightsPath(modelID string) string
}

// Mirror uploads the weights and metadata of every completed model, and
// generated images on request.
type Mirror struct {
	uploader   upload.Uploader
	weights    WeightsLocator
	presignTTL time.Duration
}

func NewMirror(u upload.Uploader, weights WeightsLocator, presignTTL time.Duration) (*Mirror, error) {
	if u == nil || weights == nil {
		return nil, errors.New("mirror requires an uploader and a weights locator")
	}
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &Mirror{uploader: u, weights: weights, presignTTL: presignTTL}, nil
}

func (*Mirror) JobSubmitted(context.Context, string, types.TrainingConfig) {}

func (m *Mirror) JobFinished(ctx context.Context, result orchestrator.Result) {
	if !result.Succeeded() || result.Model == nil {
		return
	}

	if err := m.ArchiveModel(ctx, *result.Model); err != nil {
		logger.Logger.ErrorContext(
			ctx,
			"failed to mirror model",
			"jobID", result.JobID,
			"modelID", result.Model.ModelID,
			"error", err,
		)
	}
}

// ArchiveModel uploads the zstd compressed weights followed by the metadata.
func (m *Mirror) ArchiveModel(ctx context.Context, meta artifact.Metadata) error {
	ctx, span := tracer.Start(ctx, "Mirror.ArchiveModel", trace.WithAttributes(
		attribute.String("model.id", meta.ModelID),
	))
	defer span.End()

	auditContext := audit.Context{ModelID: &meta.ModelID}

	compressed, err := compressFile(ctx, m.weights.WeightsPath(meta.ModelID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compress weights")
		return fmt.Errorf("failed to compress weights: %w", err)
	}
	defer os.Remove(compressed)

	_, err = ArchiveFile(ctx, auditContext, m.uploader, &FileMetadata{
		LocalFilePath: &compressed,
		Object:        upload.ObjectWeights,
		ArchivedFile:  audit.FileWeights,
		Entity:        audit.EntityModel,
		EntityID:      meta.ModelID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive weights")
		return fmt.Errorf("failed to archive weights: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal metadata")
		return err
	}

	_, err = ArchiveFile(ctx, auditContext, m.uploader, &FileMetadata{
		Buffer:       &raw,
		Object:       upload.ObjectMetadata,
		ArchivedFile: audit.FileMetadata,
		Entity:       audit.EntityModel,
		EntityID:     meta.ModelID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive metadata")
		return fmt.Errorf("failed to archive metadata: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "archived model")
	return nil
}

// ArchiveImage uploads a generated PNG and returns a presigned URL for it.
func (m *Mirror) ArchiveImage(ctx context.Context, modelID string, imageID string, image []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Mirror.ArchiveImage", trace.WithAttributes(
		attribute.String("model.id", modelID),
		attribute.String("image.id", imageID),
	))
	defer span.End()

	key, err := ArchiveFile(ctx, audit.Context{ModelID: &modelID}, m.uploader, &FileMetadata{
		Buffer:       &image,
		Object:       upload.ObjectImage,
		ArchivedFile: audit.FileImage,
		Entity:       audit.EntityImage,
		EntityID:     imageID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive image")
		return "", err
	}

	url, err := m.uploader.PresignedReadURL(ctx, key, m.presignTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to presign image url")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "archived image")
	return url, nil
}

// compressFile writes a zstd copy of path to a temporary file and returns its
// path. The caller removes it.
func compressFile(ctx context.Context, path string) (string, error) {
	_, span := tracer.Start(ctx, "compressFile", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	src, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open source")
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "weights-*.zst")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create temp file")
		return "", err
	}

	cleanup := func(err error) (string, error) {
		dst.Close()
		os.Remove(dst.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compress")
		return "", err
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return cleanup(err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return cleanup(err)
	}
	if err := enc.Close(); err != nil {
		return cleanup(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close temp file")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "compressed file")
	return dst.Name(), nil
}
