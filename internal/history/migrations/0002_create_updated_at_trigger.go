package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0002, Down0002)
}

func Up0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE OR REPLACE FUNCTION set_updated_at_timestamp()
RETURNS TRIGGER AS $$
BEGIN
	NEW.updated_at = current_timestamp;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;
`},
		statement{query: `
CREATE TRIGGER training_job_set_updated_at
BEFORE UPDATE ON training_job
FOR EACH ROW EXECUTE FUNCTION set_updated_at_timestamp();
`},
	)
}

func Down0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP TRIGGER training_job_set_updated_at ON training_job;`},
		statement{query: `DROP FUNCTION set_updated_at_timestamp;`},
	)
}
