package cmds

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/internal/exitcode"
	"github.com/museai/lora-api/internal/types"
)

var (
	generateModelID        string
	generatePrompt         string
	generateNegativePrompt string
	generateGuidance       float64
	generateSteps          int
	generateSeed           int64
	generateWidth          int
	generateHeight         int
	generateOut            string
)

// decodeDataURI returns the bytes behind a base64 data URI
func decodeDataURI(uri string) ([]byte, error) {
	_, data, found := strings.Cut(uri, ",")
	if !found || !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("not a data uri")
	}
	return base64.StdEncoding.DecodeString(data)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an image with a trained model",
	Long: `
Generates one image. With --out the PNG is written to that path and left out of
the printed response.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "generateCmd")
		defer span.End()

		span.SetAttributes(attribute.String("model.id", generateModelID))

		c, err := newClient()
		if err != nil {
			return err
		}

		req := types.GenerationRequest{
			ModelID:        generateModelID,
			Prompt:         generatePrompt,
			NegativePrompt: generateNegativePrompt,
			GuidanceScale:  generateGuidance,
			NumSteps:       generateSteps,
			Width:          generateWidth,
			Height:         generateHeight,
		}
		if cmd.Flags().Changed("seed") {
			req.Seed = &generateSeed
		}

		resp, err := c.Generate(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to generate")
			return exitError(err)
		}

		if generateOut != "" {
			image, err := decodeDataURI(resp.ImageData)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to decode image")
				return exitcode.Wrap(exitcode.Errored, fmt.Errorf("failed to decode image: %w", err))
			}
			if err := os.WriteFile(generateOut, image, 0o644); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to write image")
				return exitcode.Wrap(exitcode.Errored, fmt.Errorf("failed to write image: %w", err))
			}
			resp.ImageData = ""
		}

		span.SetAttributes(attribute.String("image.id", resp.ImageID))
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "generated image")
		return printOutput(cmd.OutOrStdout(), resp)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	defaults := types.DefaultGenerationRequest()
	generateCmd.Flags().StringVarP(&generateModelID, "model", "m", "", "Model ID (required)")
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Prompt (required)")
	generateCmd.Flags().
		StringVar(&generateNegativePrompt, "negative-prompt", defaults.NegativePrompt, "Negative prompt")
	generateCmd.Flags().Float64Var(&generateGuidance, "guidance", defaults.GuidanceScale, "Guidance scale")
	generateCmd.Flags().IntVar(&generateSteps, "steps", defaults.NumSteps, "Inference steps")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 0, "Seed, random when unset")
	generateCmd.Flags().IntVar(&generateWidth, "width", defaults.Width, "Image width")
	generateCmd.Flags().IntVar(&generateHeight, "height", defaults.Height, "Image height")
	generateCmd.Flags().StringVar(&generateOut, "out", "", "Write the PNG to this path")

	for _, requiredFlag := range []string{"model", "prompt"} {
		if err := generateCmd.MarkFlagRequired(requiredFlag); err != nil {
			panic(err)
		}
	}
}
