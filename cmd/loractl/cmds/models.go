package cmds

import (
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage trained models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trained models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "modelsListCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		models, err := c.Models(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list models")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "listed models")
		return printOutput(cmd.OutOrStdout(), models)
	},
}

var modelsGetCmd = &cobra.Command{
	Use:   "get MODEL_ID",
	Short: "Show one trained model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "modelsGetCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		model, err := c.Model(ctx, args[0])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get model")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "got model")
		return printOutput(cmd.OutOrStdout(), model)
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete MODEL_ID",
	Short: "Delete a trained model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "modelsDeleteCmd")
		defer span.End()

		c, err := newClient()
		if err != nil {
			return err
		}

		msg, err := c.DeleteModel(ctx, args[0])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete model")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "deleted model")
		return printOutput(cmd.OutOrStdout(), msg)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsGetCmd, modelsDeleteCmd)
}
