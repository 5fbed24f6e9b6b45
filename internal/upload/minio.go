package upload

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Uploader = (*MinioUploader)(nil)

// S3 compatible bucket
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(endpoint, id, secret string, ssl bool, bucket string) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(id, secret, ""),
		Secure: ssl,
	})
	if err != nil {
		return nil, err
	}

	return NewMinioUploaderFromClient(client, bucket), nil
}

func NewMinioUploaderFromClient(client *minio.Client, bucket string) *MinioUploader {
	return &MinioUploader{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "MinioUploader.EnsureBucket", trace.WithAttributes(
		attribute.String("bucket", u.bucket),
	))
	defer span.End()

	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check bucket")
		return err
	}

	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to make bucket")
			return err
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "bucket ready")
	return nil
}

func (u *MinioUploader) Upload(
	ctx context.Context,
	reader io.ReadSeeker,
	length int64,
	key string,
	contentType string,
) error {
	ctx, span := tracer.Start(ctx, "MinioUploader.Upload", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("length", length),
	))
	defer span.End()

	_, err := u.client.PutObject(ctx, u.bucket, key, reader, length, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "put object")
	return nil
}

func (u *MinioUploader) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "MinioUploader.Exists", trace.WithAttributes(
		attribute.String("key", key),
	))
	defer span.End()

	_, err := u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "did not find object")
			return false, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat object")
		return false, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "statted object")
	return true, nil
}

func (u *MinioUploader) StoreIdentifier(_ context.Context) (string, error) {
	return u.bucket, nil
}

func (u *MinioUploader) PresignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "MinioUploader.PresignedReadURL", trace.WithAttributes(
		attribute.String("key", key),
		attribute.String("ttl", ttl.String()),
	))
	defer span.End()

	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, ttl, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to presign url")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "presigned url")
	return presigned.String(), nil
}
