package routes

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	servermiddleware "github.com/museai/lora-api/cmd/server/internal/middleware"
	"github.com/museai/lora-api/internal/validator"
)

const ServiceName = "lora-api"

// 20 images of 10MiB each after base64 expansion, plus the rest of the body
const bodyLimit = "300M"

// BuildEcho sets up the shared middleware stack. metrics may be nil.
func BuildEcho(logger *slog.Logger, metrics http.Handler) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	validate := validator.Create()
	e.Validator = &validate

	e.Pre(middleware.AddTrailingSlash())

	e.Use(
		middleware.Recover(),
		otelecho.Middleware(ServiceName),
		slogecho.NewWithConfig(logger, slogecho.Config{
			DefaultLevel:     slog.LevelInfo,
			ClientErrorLevel: slog.LevelWarn,
			ServerErrorLevel: slog.LevelError,
		}),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		}),
		middleware.BodyLimit(bodyLimit),
		servermiddleware.Time("time"),
	)

	e.GET("/health/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if metrics != nil {
		e.GET("/metrics/", echo.WrapHandler(metrics))
	}

	return e, nil
}
