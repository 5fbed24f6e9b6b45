package cmds

import (
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "healthCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		health, err := c.Health(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get health")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "got health")
		return printOutput(cmd.OutOrStdout(), health)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
