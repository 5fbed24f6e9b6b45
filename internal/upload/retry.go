package upload

import (
	"context"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Uploader = (*RetryUploader)(nil)

// RetryUploader retries every operation of the wrapped uploader with backoff.
type RetryUploader struct {
	uploader Uploader
	backoff  func() retry.Backoff
}

func NewRetryUploaderBackoff(uploader Uploader, backoff func() retry.Backoff) *RetryUploader {
	return &RetryUploader{uploader: uploader, backoff: backoff}
}

// Exponential backoff capped at two minutes. Mirroring runs after a job has
// finished so latency does not matter.
func NewRetryUploader(uploader Uploader) *RetryUploader {
	return NewRetryUploaderBackoff(uploader, func() retry.Backoff {
		return retry.WithMaxDuration(2*time.Minute, retry.NewExponential(time.Second))
	})
}

// withRetry runs fn until it succeeds or the backoff gives up. Every error
// from fn is treated as retryable.
func withRetry[T any](
	ctx context.Context,
	r *RetryUploader,
	name string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, span := tracer.Start(ctx, "RetryUploader."+name)
	defer span.End()

	attempt := 0
	var out T
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		//nolint:govet // shadow: the attempt span must not leak into the outer one
		ctx, span := tracer.Start(ctx, "RetryUploader."+name+".Attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
		))
		defer span.End()

		var err error
		out, err = fn(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attempt failed")
			return retry.RetryableError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "attempt succeeded")
		return nil
	})
	if err != nil {
		var zero T
		span.RecordError(err)
		span.SetStatus(codes.Error, "gave up retrying")
		return zero, err
	}

	span.SetAttributes(attribute.Int("attempts", attempt))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "succeeded")
	return out, nil
}

func (r *RetryUploader) Exists(ctx context.Context, key string) (bool, error) {
	return withRetry(ctx, r, "Exists", func(ctx context.Context) (bool, error) {
		return r.uploader.Exists(ctx, key)
	})
}

func (r *RetryUploader) StoreIdentifier(ctx context.Context) (string, error) {
	return withRetry(ctx, r, "StoreIdentifier", r.uploader.StoreIdentifier)
}

func (r *RetryUploader) Upload(
	ctx context.Context,
	reader io.ReadSeeker,
	length int64,
	key string,
	contentType string,
) error {
	_, err := withRetry(ctx, r, "Upload", func(ctx context.Context) (struct{}, error) {
		// a failed attempt may have consumed part of the reader
		if _, err := reader.Seek(0, io.SeekStart); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.uploader.Upload(ctx, reader, length, key, contentType)
	})
	return err
}

func (r *RetryUploader) PresignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return withRetry(ctx, r, "PresignedReadURL", func(ctx context.Context) (string, error) {
		return r.uploader.PresignedReadURL(ctx, key, ttl)
	})
}
