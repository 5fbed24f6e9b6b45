package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/museai/lora-api/internal/logger"
)

const (
	defaultPollInterval = 30 * time.Second
	// job events are only useful while someone is watching
	defaultMessageTTL    = 7 * 24 * time.Hour
	defaultRetryDelay    = 10 * time.Second
	defaultMaxDeliveries = 5
)

// AzureQueuer sends and receives JSON messages on one Azure storage queue.
type AzureQueuer struct {
	az            *azqueue.QueueClient
	pollInterval  time.Duration
	messageTTL    time.Duration
	retryDelay    time.Duration
	maxDeliveries int64
}

var _ Queuer = (*AzureQueuer)(nil)

// `queueName` must exist in the storage account, see EnsureQueue
func NewAzureQueuer(
	accountName string,
	accountKey string,
	serviceURL string,
	queueName string,
) (*AzureQueuer, error) {
	cred, err := azqueue.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, err
	}
	serviceClient, err := azqueue.NewServiceClientWithSharedKeyCredential(
		serviceURL,
		cred,
		&azqueue.ClientOptions{
			ClientOptions: policy.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries: 3,
					RetryDelay: 250 * time.Millisecond,
				},
			},
		},
	)
	if err != nil {
		return nil, err
	}

	return &AzureQueuer{
		az:            serviceClient.NewQueueClient(queueName),
		pollInterval:  defaultPollInterval,
		messageTTL:    defaultMessageTTL,
		retryDelay:    defaultRetryDelay,
		maxDeliveries: defaultMaxDeliveries,
	}, nil
}

// WithPollInterval changes how long Dequeue waits before polling an empty queue again.
func (q *AzureQueuer) WithPollInterval(interval time.Duration) *AzureQueuer {
	q.pollInterval = interval
	return q
}

// WithRetryDelay changes how soon a message whose handler failed becomes
// visible again.
func (q *AzureQueuer) WithRetryDelay(delay time.Duration) *AzureQueuer {
	q.retryDelay = delay
	return q
}

// WithMaxDeliveries sets how many times a message is handed out before it is
// dropped as poison.
func (q *AzureQueuer) WithMaxDeliveries(n int64) *AzureQueuer {
	q.maxDeliveries = n
	return q
}

// EnsureQueue creates the queue when it does not exist yet.
func (q *AzureQueuer) EnsureQueue(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Azure.EnsureQueue")
	defer span.End()

	_, err := q.az.Create(ctx, nil)
	if err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create queue")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "queue ready")
	return nil
}

func (q *AzureQueuer) Enqueue(ctx context.Context, message any) error {
	ctx, span := tracer.Start(ctx, "Azure.Enqueue")
	defer span.End()

	body, err := json.Marshal(message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return err
	}

	span.AddEvent("serialized_message", trace.WithAttributes(
		attribute.Int("bytes", len(body)),
	))

	ttl := int32(q.messageTTL.Seconds())
	_, err = q.az.EnqueueMessage(ctx, string(body), &azqueue.EnqueueMessageOptions{
		TimeToLive: &ttl,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue message")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "enqueued message")
	return nil
}

// next polls until one message is available or ctx ends.
func (q *AzureQueuer) next(ctx context.Context, visibility int32) (*azqueue.DequeuedMessage, error) {
	for {
		resp, err := q.az.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{
			VisibilityTimeout: &visibility,
		})
		if err != nil {
			return nil, err
		}

		switch len(resp.Messages) {
		case 1:
			return resp.Messages[0], nil
		case 0:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
			}
		default:
			return nil, fmt.Errorf("unexpected number of messages: %d", len(resp.Messages))
		}
	}
}

func (q *AzureQueuer) Dequeue(
	ctx context.Context,
	timeout time.Duration,
	handler MessageHandler,
) error {
	ctx, span := tracer.Start(ctx, "Azure.Dequeue", trace.WithAttributes(
		attribute.Int64("timeoutSecs", int64(timeout.Seconds())),
	))
	defer span.End()

	// the message stays hidden a little longer than the handler may run
	visibility := int32(timeout.Seconds()) + 5

	msg, err := q.next(ctx, visibility)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dequeue message")
		return err
	}

	var deliveries int64
	if msg.DequeueCount != nil {
		deliveries = *msg.DequeueCount
	}
	span.SetAttributes(
		attribute.String("message.id", *msg.MessageID),
		attribute.Int64("message.deliveries", deliveries),
	)

	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	err = handler.Handle(handlerCtx, []byte(*msg.MessageText))
	cancel()

	var pe *PoisonError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		logger.Logger.WarnContext(ctx, "dropping poisoned message", "messageID", *msg.MessageID, "error", err)
	case q.maxDeliveries > 0 && deliveries >= q.maxDeliveries:
		logger.Logger.WarnContext(ctx, "dropping message after too many deliveries",
			"messageID", *msg.MessageID, "deliveries", deliveries, "error", err)
	default:
		span.AddEvent("failed_message_handler", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		retry := int32(q.retryDelay.Seconds())
		_, updateErr := q.az.UpdateMessage(ctx, *msg.MessageID, *msg.PopReceipt, *msg.MessageText,
			&azqueue.UpdateMessageOptions{VisibilityTimeout: &retry})
		if updateErr != nil {
			// the message reappears once the original visibility timeout ends
			logger.Logger.WarnContext(ctx, "failed to shorten message visibility",
				"messageID", *msg.MessageID, "error", updateErr)
		}
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "dequeued message but failed to handle")
		return nil
	}

	if _, err := q.az.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to remove message")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "dequeued message")
	return nil
}
