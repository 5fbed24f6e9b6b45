// Package migrations holds the goose migrations for the job history schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/museai/lora-api/internal/logger"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/history/migrations")

// Kept apart from any other goose tables sharing the database.
const versionTable = "loraapi_schema_version"

func init() {
	goose.SetTableName(versionTable)
}

func rawDB(db *gorm.DB) (*sql.DB, error) {
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	return db.DB()
}

// Up applies every pending migration and logs the resulting version.
func Up(ctx context.Context, db *gorm.DB) error {
	ctx, span := tracer.Start(ctx, "Up")
	defer span.End()

	sqlDB, err := rawDB(db)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database handle")
		return err
	}

	before, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read schema version")
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to apply migrations")
		return err
	}

	after, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read schema version")
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	span.SetAttributes(attribute.Int64("version.before", before), attribute.Int64("version.after", after))
	if after != before {
		logger.Logger.InfoContext(ctx, "migrated job history schema", "from", before, "to", after)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "schema up to date")
	return nil
}

// Down rolls back every migration, dropping the history tables.
func Down(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := rawDB(db)
	if err != nil {
		return err
	}

	return goose.DownToContext(ctx, sqlDB, ".", 0)
}

func Version(ctx context.Context, db *gorm.DB) (int64, error) {
	sqlDB, err := rawDB(db)
	if err != nil {
		return 0, err
	}

	return goose.GetDBVersionContext(ctx, sqlDB)
}

type statement struct {
	query string
	args  []any
}

// execStatements runs each statement in order, stopping at the first failure.
func execStatements(ctx context.Context, tx *sql.Tx, statements ...statement) error {
	for i, s := range statements {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}

	return nil
}
