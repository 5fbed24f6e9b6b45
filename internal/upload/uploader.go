// Package upload mirrors local artifacts into object storage. Objects are
// content addressed: the key is derived from the sha256 of the body.
package upload

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/hash"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/upload")

//go:generate mockgen -destination ./mock/mock.go -package mock . Uploader

// Object storage the mirror writes to
type Uploader interface {
	// Create or overwrite the object at key
	Upload(ctx context.Context, reader io.ReadSeeker, length int64, key string, contentType string) error
	// Whether key is already present. Only used to skip re-uploading identical
	// content, may always return false.
	Exists(ctx context.Context, key string) (bool, error)
	// Bucket or container name, for logging and auditing
	StoreIdentifier(ctx context.Context) (string, error)
	// Anonymous read-only URL for key that expires after ttl
	PresignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Kind of mirrored object. Decides the key prefix, extension and content type.
type Object struct {
	Prefix      string
	Ext         string
	ContentType string
}

var (
	ObjectWeights  = Object{Prefix: "weights", Ext: ".safetensors.zst", ContentType: "application/zstd"}
	ObjectMetadata = Object{Prefix: "metadata", Ext: ".json", ContentType: "application/json"}
	ObjectImage    = Object{Prefix: "images", Ext: ".png", ContentType: "image/png"}
)

func (o Object) Key(sum string) string {
	return path.Join(o.Prefix, sum+o.Ext)
}

// Hashed uploads reader under obj.Key(sha256 of its content) and returns the key.
//
// The reader is rewound first, so pass a buffer you want uploaded in full.
// Nothing is uploaded if the key already exists.
func Hashed(
	ctx context.Context,
	u Uploader,
	obj Object,
	reader io.ReadSeeker,
	length int64,
) (string, error) {
	ctx, span := tracer.Start(ctx, "UploadHashed", trace.WithAttributes(
		attribute.String("object.prefix", obj.Prefix),
		attribute.Int64("length", length),
	))
	defer span.End()

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seek to start")
		return "", err
	}

	sum, err := hash.Reader(ctx, reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash reader")
		return "", err
	}
	key := obj.Key(sum)
	span.SetAttributes(attribute.String("key", key))

	exists, err := u.Exists(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check if object exists")
		return "", err
	}

	if exists {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "found existing object")
		return key, nil
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seek to start")
		return "", err
	}

	if err := u.Upload(ctx, reader, length, key, obj.ContentType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload object")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "uploaded object by hash")
	return key, nil
}

// HashedFile is Hashed for a file on disk.
func HashedFile(ctx context.Context, u Uploader, obj Object, filePath string) (string, error) {
	ctx, span := tracer.Start(ctx, "UploadHashedFile", trace.WithAttributes(
		attribute.String("filePath", filePath),
	))
	defer span.End()

	f, err := os.Open(filePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open file")
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat file")
		return "", err
	}

	key, err := Hashed(ctx, u, obj, f, stat.Size())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "uploaded file")
	return key, nil
}
