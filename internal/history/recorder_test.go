package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/history"
	"github.com/museai/lora-api/internal/history/migrations"
	"github.com/museai/lora-api/internal/ledger"
	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
)

func TestRecorder(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16.4-alpine",
		postgres.WithDatabase("loraapi"),
		postgres.WithUsername("loraapi"),
		postgres.WithPassword("loraapi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	defer func() {
		err = testcontainers.TerminateContainer(postgresContainer)
		assert.NoError(t, err, "failed to terminate container")
	}()
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string to container")

	db, err := history.Open(
		ctx,
		dsn,
		config.PostgresConfig{MaxIdleConnections: 1, MaxOpenConnections: 2, ConnectionTTL: time.Minute},
		config.GormLogConfig{Level: 8},
	)
	require.NoError(t, err, "failed to open history database")

	recorder := history.NewRecorder(db)
	cfg := types.TrainingConfig{
		ModelName:     "cats",
		TrainingSteps: 100,
		LearningRate:  1e-4,
		Resolution:    512,
		ImageCount:    5,
	}

	t.Run("Unknown", func(t *testing.T) {
		_, err := recorder.Get(ctx, "missing")
		require.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		recorder.JobSubmitted(ctx, "job-1", cfg)

		status, err := recorder.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, types.TrainingStatus{
			JobID:   "job-1",
			Status:  "queued",
			Message: ledger.QueuedMessage,
		}, status)

		modelID := "lora_job-1"
		recorder.JobFinished(ctx, orchestrator.Result{
			JobID:  "job-1",
			Config: cfg,
			Final: ledger.Snapshot{
				JobID:    "job-1",
				State:    ledger.StateCompleted,
				Progress: 100,
				Message:  orchestrator.MsgCompleted,
				ModelID:  &modelID,
			},
			Finished: time.Now(),
		})

		status, err = recorder.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "completed", status.Status)
		assert.InDelta(t, 100.0, status.Progress, 0.001)
		require.NotNil(t, status.ModelID)
		assert.Equal(t, modelID, *status.ModelID)

		var row history.TrainingJob
		require.NoError(t, db.Where("id = ?", "job-1").First(&row).Error)
		assert.Equal(t, cfg, row.Config.Data())
		assert.NotNil(t, row.FinishedAt)
	})

	t.Run("FinishWithoutSubmit", func(t *testing.T) {
		recorder.JobFinished(ctx, orchestrator.Result{
			JobID:  "job-2",
			Config: cfg,
			Final: ledger.Snapshot{
				JobID:    "job-2",
				State:    ledger.StateFailed,
				Progress: 30,
				Message:  "Training failed: server shutting down",
			},
			Finished: time.Now(),
		})

		status, err := recorder.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, "failed", status.Status)
		assert.Nil(t, status.ModelID)
	})

	t.Run("DuplicateSubmitKeepsFirst", func(t *testing.T) {
		recorder.JobSubmitted(ctx, "job-2", cfg)

		status, err := recorder.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, "failed", status.Status)
	})

	t.Run("Down", func(t *testing.T) {
		version, err := migrations.Version(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		require.NoError(t, migrations.Down(ctx, db))
		version, err = migrations.Version(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)

		require.NoError(t, migrations.Up(ctx, db))
	})
}
