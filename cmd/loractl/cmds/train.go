package cmds

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/museai/lora-api/internal/exitcode"
	"github.com/museai/lora-api/internal/fetch"
	"github.com/museai/lora-api/internal/types"
	"github.com/museai/lora-api/internal/validator"
)

var (
	trainName         string
	trainSteps        int
	trainLearningRate float64
	trainResolution   int
	trainWait         bool
	trainInterval     time.Duration
)

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func newFetcher() fetch.Fetcher {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = requestTimeout
	return fetch.NewHTTPFetcher(rc.StandardClient(), validator.MaxImageBytes)
}

// encodeImage reads a local path or http(s) URL into a data URI
func encodeImage(ctx context.Context, fetcher fetch.Fetcher, source string) (string, error) {
	var (
		raw []byte
		err error
	)
	if isRemote(source) {
		raw, err = fetch.ReadAll(ctx, fetcher, source)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"data:%s;base64,%s",
		http.DetectContentType(raw),
		base64.StdEncoding.EncodeToString(raw),
	), nil
}

var trainCmd = &cobra.Command{
	Use:   "train IMAGE...",
	Short: "Start a LoRA training job from images",
	Long: `
Uploads 5 to 20 images and starts a training job. Each IMAGE is a local path
or an http(s) URL, which is downloaded first.

With --wait the command polls until the job finishes and exits with 2 if it failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "trainCmd")
		defer span.End()

		span.SetAttributes(
			attribute.String("name", trainName),
			attribute.Int("images", len(args)),
			attribute.Int("steps", trainSteps),
		)

		c, err := newClient()
		if err != nil {
			return err
		}

		req := types.DefaultTrainingRequest()
		req.ModelName = trainName
		req.Images = make([]string, 0, len(args))
		if cmd.Flags().Changed("steps") {
			req.TrainingSteps = trainSteps
		}
		if cmd.Flags().Changed("learning-rate") {
			req.LearningRate = trainLearningRate
		}
		if cmd.Flags().Changed("resolution") {
			req.Resolution = trainResolution
		}

		fetcher := newFetcher()
		for _, source := range args {
			image, err := encodeImage(ctx, fetcher, source)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to read image")
				return exitcode.Wrap(exitcode.Errored, fmt.Errorf("failed to read image: %w", err))
			}
			req.Images = append(req.Images, image)
		}

		started, err := c.Train(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start training")
			return exitError(err)
		}

		if !trainWait {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "started training")
			return printOutput(cmd.OutOrStdout(), started)
		}

		status, err := c.Wait(ctx, started.JobID, trainInterval, progressPrinter(cmd))
		if printErr := printOutput(cmd.OutOrStdout(), status); printErr != nil {
			return printErr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "training did not complete")
			return exitError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "training completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)

	defaults := types.DefaultTrainingRequest()
	trainCmd.Flags().StringVarP(&trainName, "name", "n", "", "Model name (required)")
	trainCmd.Flags().IntVar(&trainSteps, "steps", defaults.TrainingSteps, "Training steps")
	trainCmd.Flags().Float64Var(&trainLearningRate, "learning-rate", defaults.LearningRate, "Learning rate")
	trainCmd.Flags().IntVar(&trainResolution, "resolution", defaults.Resolution, "Training resolution")
	trainCmd.Flags().BoolVarP(&trainWait, "wait", "w", false, "Wait for the job to finish")
	trainCmd.Flags().DurationVar(&trainInterval, "interval", 2*time.Second, "Polling interval with --wait")

	if err := trainCmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
}
