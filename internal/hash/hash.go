package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/hash")

var ErrMismatch = errors.New("checksum mismatch")

// Will consume reader to the end
func Reader(ctx context.Context, f io.Reader) (string, error) {
	_, span := tracer.Start(ctx, "Reader")
	defer span.End()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy file into hasher")
		return "", err
	}

	sum := hex.EncodeToString(h.Sum(nil))

	span.AddEvent("digested", trace.WithAttributes(attribute.String("sum", sum)))

	return sum, nil
}

// Hex sha256 of the file at path
func File(ctx context.Context, path string) (string, error) {
	ctx, span := tracer.Start(ctx, "File", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open file")
		return "", err
	}
	defer f.Close()

	sum, err := Reader(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash file")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "hashed file")
	return sum, nil
}

func Buffer(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Verify checks that the file at path hashes to want.
func Verify(ctx context.Context, path string, want string) error {
	ctx, span := tracer.Start(ctx, "Verify", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("want", want),
	))
	defer span.End()

	got, err := File(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash file")
		return err
	}
	if got != want {
		err := fmt.Errorf("%w: %s has %s, expected %s", ErrMismatch, path, got, want)
		span.RecordError(err)
		span.SetStatus(codes.Error, "checksum mismatch")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checksum matches")
	return nil
}
