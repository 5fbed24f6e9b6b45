package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/museai/lora-api/cmd/loractl/internal/client"
	"github.com/museai/lora-api/internal/exitcode"
)

var tracer = otel.Tracer("github.com/museai/lora-api/cmd/loractl/cmds")

const (
	serverEnv     = "LORACTL_SERVER"
	defaultServer = "http://localhost:8000"
)

var (
	serverURL      string
	outputFormat   string
	requestTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "loractl",
	Short:        "Client for the LoRA fine-tuning API",
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch outputFormat {
		case outputJSON, outputYAML:
			return nil
		default:
			return exitcode.Wrap(exitcode.Errored, fmt.Errorf("unknown output format %q", outputFormat))
		}
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func newClient() (*client.Client, error) {
	c, err := client.New(serverURL, client.Options{Timeout: requestTimeout, RetryMax: 3})
	if err != nil {
		return nil, exitcode.Wrap(exitcode.Errored, err)
	}
	return c, nil
}

// exitError maps client errors onto process exit codes.
func exitError(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsNotFound(err):
		return exitcode.Wrap(exitcode.NotFound, err)
	case errors.Is(err, client.ErrJobFailed):
		return exitcode.Wrap(exitcode.JobFailed, err)
	default:
		return exitcode.Wrap(exitcode.Errored, err)
	}
}

func init() {
	server := os.Getenv(serverEnv)
	if server == "" {
		server = defaultServer
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", server, "API base URL (env "+serverEnv+")")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputJSON, "Output format: json or yaml")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Minute, "Per request timeout")
}
