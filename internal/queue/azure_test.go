package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/azure/azurite"
	"go.uber.org/mock/gomock"

	"github.com/museai/lora-api/internal/queue"
	mockqueue "github.com/museai/lora-api/internal/queue/mock"
	"github.com/museai/lora-api/internal/types"
)

var queueName = "job-events"

type message struct {
	Foo string `json:"foo"`
}

func TestAzure(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	ctx := t.Context()

	azuriteContainer, err := azurite.Run(
		ctx,
		"mcr.microsoft.com/azure-storage/azurite:latest",
		azurite.WithInMemoryPersistence(256),
	)
	require.NoError(t, err, "failed to make azurite container")
	defer func() {
		require.NoError(t, testcontainers.TerminateContainer(azuriteContainer))
	}()

	cred, err := azqueue.NewSharedKeyCredential(azurite.AccountName, azurite.AccountKey)
	require.NoError(t, err, "failed to get creds")

	serviceURL, err := azuriteContainer.QueueServiceURL(ctx)
	require.NoError(t, err, "failed to get serviceURL")
	serviceURL = fmt.Sprintf("%s/%s", serviceURL, azurite.AccountName)

	azclient, err := azqueue.NewServiceClientWithSharedKeyCredential(
		serviceURL,
		cred,
		nil,
	)
	require.NoError(t, err, "failed to make azure queue client")

	queueclient := azclient.NewQueueClient(queueName)

	queuer, err := queue.NewAzureQueuer(
		azurite.AccountName,
		azurite.AccountKey,
		serviceURL,
		queueName,
	)
	require.NoError(t, err, "failed to construct queuer")
	queuer = queuer.WithPollInterval(100 * time.Millisecond)

	require.NoError(t, queuer.EnsureQueue(ctx), "failed to make queue")
	require.NoError(t, queuer.EnsureQueue(ctx), "second ensure should be a no-op")

	t.Run("Enqueue", func(t *testing.T) {
		expected := message{Foo: "foo"}
		require.NoError(t, queuer.Enqueue(ctx, expected), "failed to queue message")

		dequeued, dqErr := queueclient.DequeueMessage(
			ctx,
			nil,
		)
		require.NoError(t, dqErr, "failed to dequeue message")

		assert.Len(t, dequeued.Messages, 1, "should remove 1 message")

		rawMessage := *dequeued.Messages[0].MessageText
		actual := message{}
		err = json.Unmarshal([]byte(rawMessage), &actual)
		require.NoError(t, err, "failed to unmarshal message")

		assert.Equal(t, expected, actual, "messages should match")
	})

	t.Run("Dequeue", func(t *testing.T) {
		t.Run("Empty", func(t *testing.T) {
			// Should not find something to dequeue before the context cancels
			ctrl := gomock.NewController(t)
			handler := mockqueue.NewMockMessageHandler(ctrl)

			handler.EXPECT().Handle(gomock.Any(), gomock.Any()).Times(0)

			cctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()

			require.Error(
				t,
				queuer.Dequeue(cctx, time.Minute, handler),
				"failed to handle a dequeue",
			)
		})

		t.Run("JobEvent", func(t *testing.T) {
			modelID := "lora_job"
			expected := types.JobEvent{
				JobID:     "job",
				Status:    "completed",
				Message:   "Training completed successfully!",
				ModelID:   &modelID,
				Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
			}
			require.NoError(t, queuer.Enqueue(ctx, expected))

			var got types.JobEvent
			handler := queue.NewJobEventHandler(func(_ context.Context, event types.JobEvent) error {
				got = event
				return nil
			})

			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler))
			assert.Equal(t, expected, got)
		})

		t.Run("Something", func(t *testing.T) {
			ctrl := gomock.NewController(t)
			handler := mockqueue.NewMockMessageHandler(ctrl)

			msg := "abc"
			_, err = queueclient.EnqueueMessage(ctx, msg, nil)
			require.NoError(t, err, "enqueing message")

			handler.EXPECT().Handle(gomock.Any(), gomock.Eq([]byte(msg))).Times(1)

			err := queuer.Dequeue(ctx, time.Minute, handler)
			require.NoError(t, err, "failed to dequeue message")
		})

		assertEmpty := func(t *testing.T) {
			t.Helper()
			peeked, err := queueclient.PeekMessages(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, peeked.Messages)
		}

		t.Run("RetriedAfterFailure", func(t *testing.T) {
			queuer.WithRetryDelay(0)

			ctrl := gomock.NewController(t)
			handler := mockqueue.NewMockMessageHandler(ctrl)

			msg := "retry-me"
			_, err := queueclient.EnqueueMessage(ctx, msg, nil)
			require.NoError(t, err)

			gomock.InOrder(
				handler.EXPECT().Handle(gomock.Any(), []byte(msg)).Return(errors.New("expected error")),
				handler.EXPECT().Handle(gomock.Any(), []byte(msg)).Return(nil),
			)

			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler), "failed handler is not an error")
			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler))
			assertEmpty(t)
		})

		t.Run("DroppedAfterMaxDeliveries", func(t *testing.T) {
			queuer.WithRetryDelay(0).WithMaxDeliveries(2)

			ctrl := gomock.NewController(t)
			handler := mockqueue.NewMockMessageHandler(ctrl)

			msg := "doomed"
			_, err := queueclient.EnqueueMessage(ctx, msg, nil)
			require.NoError(t, err)

			handler.EXPECT().Handle(gomock.Any(), []byte(msg)).Return(errors.New("expected error")).Times(2)

			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler))
			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler))
			assertEmpty(t)
		})

		t.Run("PoisonDropped", func(t *testing.T) {
			handler := queue.NewJobEventHandler(func(context.Context, types.JobEvent) error {
				t.Fatal("handler must not see malformed events")
				return nil
			})

			_, err := queueclient.EnqueueMessage(ctx, "not json", nil)
			require.NoError(t, err)

			require.NoError(t, queuer.Dequeue(ctx, time.Minute, handler))
			assertEmpty(t)
		})
	})
}
