package cmds

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/internal/config"
	"github.com/museai/lora-api/internal/exitcode"
	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/queue"
	"github.com/museai/lora-api/internal/types"
)

var (
	eventsAccount      string
	eventsKey          string
	eventsQueueURL     string
	eventsQueue        string
	eventsCount        int
	eventsPollInterval time.Duration
	eventsTimeout      time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow job finished events from the Azure queue",
	Long: `
Prints job events as they arrive. Events are removed from the queue once
printed. Stops after --count events, or on interrupt when --count is 0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "eventsCmd")
		defer span.End()

		span.SetAttributes(
			attribute.String("queue", eventsQueue),
			attribute.Int("count", eventsCount),
		)

		if eventsKey == "" {
			err := exitcode.Wrap(exitcode.Errored, errors.New("error env LORACTL_EVENTS_KEY required"))
			span.RecordError(err)
			span.SetStatus(codes.Error, "missing queue key")
			return err
		}

		q, err := queue.FromConfig(ctx, &config.EventsConfig{
			Enabled:  true,
			Name:     eventsAccount,
			Key:      eventsKey,
			QueueURL: eventsQueueURL,
			Queue:    eventsQueue,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to connect to queue")
			return exitcode.Wrap(exitcode.Errored, err)
		}
		q.WithPollInterval(eventsPollInterval)

		received := 0
		handler := queue.NewJobEventHandler(func(_ context.Context, event types.JobEvent) error {
			received++
			return printOutput(cmd.OutOrStdout(), event)
		})

		for eventsCount == 0 || received < eventsCount {
			err := q.Dequeue(ctx, eventsTimeout, handler)
			if errors.Is(err, context.Canceled) {
				break
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to dequeue")
				return exitcode.Wrap(exitcode.Errored, err)
			}
		}

		logger.Logger.DebugContext(ctx, "stopped following events", "received", received)
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "followed events")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVar(&eventsAccount, "account", "", "Storage account name (required)")
	eventsCmd.Flags().StringVar(&eventsQueueURL, "queue-url", "", "Queue service URL (required)")
	eventsCmd.Flags().StringVar(&eventsQueue, "queue", "loraapi-job-events", "Queue name")
	eventsCmd.Flags().IntVarP(&eventsCount, "count", "c", 0, "Stop after this many events, 0 to follow forever")
	eventsCmd.Flags().DurationVar(&eventsPollInterval, "poll-interval", 5*time.Second, "Delay between empty polls")
	eventsCmd.Flags().DurationVar(&eventsTimeout, "handler-timeout", 30*time.Second, "Time allowed to print one event")

	for _, requiredFlag := range []string{"account", "queue-url"} {
		if err := eventsCmd.MarkFlagRequired(requiredFlag); err != nil {
			panic(err)
		}
	}

	eventsKey = os.Getenv("LORACTL_EVENTS_KEY")
}
