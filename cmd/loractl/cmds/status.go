package cmds

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/internal/types"
)

var waitInterval time.Duration

// progressPrinter reports changes in job progress on stderr
func progressPrinter(cmd *cobra.Command) func(types.TrainingStatus) {
	last := ""
	return func(s types.TrainingStatus) {
		line := fmt.Sprintf("%s %5.1f%% %s", s.Status, s.Progress, s.Message)
		if line != last {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
			last = line
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status [JOB_ID]",
	Short: "Show one training job, or every job the server knows about",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "statusCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		var out any
		if len(args) == 0 {
			out, err = c.Jobs(ctx)
		} else {
			out, err = c.Status(ctx, args[0])
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get status")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "got status")
		return printOutput(cmd.OutOrStdout(), out)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait JOB_ID",
	Short: "Wait for a training job to finish",
	Long: `
- Exits with 0 once the job completed.
- Exits with 2 if the job failed and 3 if the server does not know the job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "waitCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		status, err := c.Wait(ctx, args[0], waitInterval, progressPrinter(cmd))
		if err != nil && status.JobID == "" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to poll job")
			return exitError(err)
		}

		if printErr := printOutput(cmd.OutOrStdout(), status); printErr != nil {
			return printErr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job did not complete")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "job completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(waitCmd)

	waitCmd.Flags().DurationVar(&waitInterval, "interval", 2*time.Second, "Polling interval")
}
