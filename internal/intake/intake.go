package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/logger"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/intake")

// Returned for any image that could not be materialized. The wrapped message
// only ever names the file.
var ErrInvalidImage = errors.New("invalid image data")

// ImageError names the image that failed. It matches ErrInvalidImage.
type ImageError struct {
	Filename string
}

func (e *ImageError) Error() string {
	return ErrInvalidImage.Error() + ": " + e.Filename
}

func (e *ImageError) Unwrap() error {
	return ErrInvalidImage
}

const dataURIPrefix = "data:image"

func ImageFilename(jobID string, index int) string {
	return fmt.Sprintf("%s_image_%d.png", jobID, index)
}

// Intake decodes submitted images into files under its root directory.
type Intake struct {
	root string
}

func New(root string) (*Intake, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create intake directory: %w", err)
	}

	return &Intake{root: root}, nil
}

func (i *Intake) Root() string {
	return i.root
}

// Decode writes the image in payload to <root>/<filename> and returns the path.
// A leading data URI marker such as "data:image/png;base64," is stripped.
func (i *Intake) Decode(ctx context.Context, payload string, filename string) (string, error) {
	ctx, span := tracer.Start(ctx, "Intake.Decode", trace.WithAttributes(
		attribute.String("filename", filename),
		attribute.Int("payload.length", len(payload)),
	))
	defer span.End()

	fail := func(cause error, msg string) (string, error) {
		logger.Logger.ErrorContext(ctx, "failed to materialize image",
			"filename", filename, "error", cause)
		span.RecordError(cause)
		span.SetStatus(codes.Error, msg)
		return "", &ImageError{Filename: filename}
	}

	if filename == "" || filepath.Base(filename) != filename || strings.HasPrefix(filename, ".") {
		return fail(fmt.Errorf("unsafe filename %q", filename), "unsafe filename")
	}

	data := strings.TrimSpace(payload)
	if strings.HasPrefix(data, dataURIPrefix) {
		_, rest, found := strings.Cut(data, ",")
		if !found {
			return fail(errors.New("data uri without payload"), "malformed data uri")
		}
		data = rest
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fail(err, "failed to decode base64")
	}
	if len(raw) == 0 {
		return fail(errors.New("empty image"), "empty image")
	}
	// full decode so truncated pixel data is caught, not just a bad header
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fail(err, "failed to decode image")
	}
	span.SetAttributes(
		attribute.String("image.format", format),
		attribute.Int("image.width", img.Bounds().Dx()),
		attribute.Int("image.height", img.Bounds().Dy()),
	)

	tmp, err := os.CreateTemp(i.root, "."+filename+"-*")
	if err != nil {
		return fail(err, "failed to create temp file")
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(raw)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fail(err, "failed to write image")
	}

	path := filepath.Join(i.root, filename)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fail(err, "failed to move image into place")
	}

	span.SetAttributes(attribute.Int("image.bytes", len(raw)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "decoded image")
	return path, nil
}
