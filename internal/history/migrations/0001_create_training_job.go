package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0001, Down0001)
}

func Up0001(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE training_job (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'queued',
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	model_id TEXT,
	config JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	finished_at TIMESTAMP WITH TIME ZONE
);
`)
	if err != nil {
		return err
	}

	return nil
}

func Down0001(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE training_job;`)
	if err != nil {
		return err
	}

	return nil
}
