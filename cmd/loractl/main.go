package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/museai/lora-api/cmd/loractl/cmds"
	"github.com/museai/lora-api/internal/exitcode"
	"github.com/museai/lora-api/internal/logger"
	otelloraapi "github.com/museai/lora-api/internal/otel"
)

var tracer = otel.Tracer("github.com/museai/lora-api/loractl")

func runApp(ctx context.Context) int {
	// stdout belongs to command output, so traces only go out over OTLP
	useOTLP, err := strconv.ParseBool(os.Getenv("USE_OTLP"))
	if err == nil && useOTLP {
		shutdown, err := otelloraapi.SetupOTelSDK(ctx, otelloraapi.Options{
			ServiceName: "loractl",
			UseOTLP:     true,
		})
		if err != nil {
			logger.Logger.Warn("failed to setup otel sdk", "error", err)
		} else {
			defer func() {
				if fail := shutdown(context.Background()); fail != nil {
					logger.Logger.Warn("no clean shutdown for otel", "error", fail)
				}
			}()
		}
	}

	ctx, span := tracer.Start(ctx, "loractl")
	defer span.End()

	err = cmds.Execute(ctx)
	if err != nil {
		logger.Logger.Error("error executing subcommands", "error", err)

		var ee exitcode.ExitError
		if errors.As(err, &ee) {
			return ee.Code
		}
		return exitcode.Errored
	}

	return exitcode.Normal
}

func main() {
	logger.InitSlog()
	logger.SetLevel(int(slog.LevelWarn))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := runApp(ctx)
	cancel()

	os.Exit(code)
}
