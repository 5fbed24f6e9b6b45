// Package gallery keeps every generated image on disk as <root>/<image_id>.png.
package gallery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/gallery")

const dataURIPrefix = "data:image/png;base64,"

var ErrInvalidID = errors.New("invalid image id")

type Gallery struct {
	root string
}

func New(root string) (*Gallery, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gallery directory: %w", err)
	}
	return &Gallery{root: root}, nil
}

func (g *Gallery) Path(imageID string) string {
	return filepath.Join(g.root, imageID+".png")
}

// Save writes image under imageID, which must be a UUID.
func (g *Gallery) Save(ctx context.Context, imageID string, image []byte) (string, error) {
	_, span := tracer.Start(ctx, "Gallery.Save", trace.WithAttributes(
		attribute.String("image.id", imageID),
		attribute.Int("image.bytes", len(image)),
	))
	defer span.End()

	if _, err := uuid.Parse(imageID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid image id")
		return "", fmt.Errorf("%w: %s", ErrInvalidID, imageID)
	}

	tmp, err := os.CreateTemp(g.root, "."+imageID+"-*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create temp file")
		return "", err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(image)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write image")
		return "", err
	}

	path := g.Path(imageID)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move image into place")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "saved image")
	return path, nil
}

// DataURI renders a PNG for inline transport.
func DataURI(image []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(image)
}
