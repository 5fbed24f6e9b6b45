// Package history persists a row per training job in Postgres so job status
// survives restarts of the API server.
package history

import (
	"context"
	"fmt"
	"log/slog"

	sloggorm "github.com/orandin/slog-gorm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/history/migrations"
	"github.com/museai/lora-api/internal/logger"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/history")

// Open connects to Postgres, installs tracing and brings the schema up to date.
func Open(
	ctx context.Context,
	dsn string,
	pg config.PostgresConfig,
	logCfg config.GormLogConfig,
) (*gorm.DB, error) {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()

	gormLogger := slog.New(logger.Handler)

	opts := []sloggorm.Option{
		sloggorm.WithHandler(gormLogger.Handler()),
		sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(logCfg.Level)),
	}
	if logCfg.TraceQueries {
		opts = append(opts, sloggorm.WithTraceAll())
	}
	sg := sloggorm.New(opts...)

	span.AddEvent("initialized gorm logging")

	db, err := gorm.Open(
		postgres.Open(dsn),
		&gorm.Config{Logger: sg, TranslateError: true},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire underlying database connection")
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(pg.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(pg.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(pg.ConnectionTTL)

	span.AddEvent("initialized database connection")

	if err := db.Use(gormtracing.NewPlugin()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add otel plugin to gorm")
		return nil, fmt.Errorf("failed to add otel plugin to gorm: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to perform database migrations")
		return nil, fmt.Errorf("failed to perform database migrations: %w", err)
	}

	span.AddEvent("migrated database to latest version")

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "opened history database")
	return db, nil
}
