package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0003, Down0003)
}

func Up0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `CREATE INDEX training_job_model_id_idx ON training_job (model_id);`},
		statement{query: `CREATE INDEX training_job_status_idx ON training_job (status);`},
	)
}

func Down0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP INDEX training_job_status_idx;`},
		statement{query: `DROP INDEX training_job_model_id_idx;`},
	)
}
