// Package archive copies finished artifacts and generated images to the
// configured object storage mirror.
package archive

import (
	"bytes"
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/internal/audit"
	"github.com/museai/lora-api/internal/upload"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/archive")

type FileMetadata struct {
	LocalFilePath *string
	Buffer        *[]byte
	Object        upload.Object
	ArchivedFile  audit.ArchivedFile
	Entity        audit.FileArchivedEntity
	EntityID      string
}

// ArchiveFile uploads a file or buffer under its content hash and writes a
// file_archived audit event. It returns the object key.
//
//revive:disable-next-line
func ArchiveFile(
	ctx context.Context,
	auditContext audit.Context,
	u upload.Uploader,
	metadata *FileMetadata,
) (string, error) { //revive:disable-line:exported
	ctx, span := tracer.Start(ctx, "ArchiveFile")
	defer span.End()

	if metadata.LocalFilePath == nil && metadata.Buffer == nil {
		err := errors.New("tried to archive a file without a buffer or file path")
		span.SetStatus(codes.Error, "can't archive a file without a buffer or file path")
		span.RecordError(err)
		return "", err
	}

	var (
		objectName string
		err        error
	)
	if metadata.LocalFilePath != nil {
		span.AddEvent("archiving from local file")
		span.SetAttributes(attribute.String("path", *metadata.LocalFilePath))
		objectName, err = upload.HashedFile(ctx, u, metadata.Object, *metadata.LocalFilePath)
	} else {
		span.AddEvent("archiving from in-memory buffer")
		objectName, err = upload.Hashed(
			ctx,
			u,
			metadata.Object,
			bytes.NewReader(*metadata.Buffer),
			int64(len(*metadata.Buffer)),
		)
	}
	if err != nil {
		span.SetStatus(codes.Error, "failed to upload file")
		span.RecordError(err)
		return "", err
	}

	identifier, err := u.StoreIdentifier(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get identifier")
		return "", err
	}

	span.AddEvent("generating audit log message")
	audit.LogFileArchived(
		auditContext,
		identifier,
		objectName,
		metadata.ArchivedFile,
		metadata.Entity,
		metadata.EntityID,
	)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "archived file")
	return objectName, nil
}
