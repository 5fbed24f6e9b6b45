package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/museai/lora-api/internal/types"
)

var (
	InternalServerError = echo.NewHTTPError(
		http.StatusInternalServerError,
		types.StringError("something went wrong"),
	)
	NotFoundError      = echo.NewHTTPError(http.StatusNotFound, types.StringError("not found"))
	JobNotFoundError   = echo.NewHTTPError(http.StatusNotFound, types.StringError("job not found"))
	ModelNotFoundError = echo.NewHTTPError(http.StatusNotFound, types.StringError("model not found"))
	BadRequestError    = echo.NewHTTPError(http.StatusBadRequest, types.StringError("invalid request body"))
	GenerationError    = echo.NewHTTPError(
		http.StatusInternalServerError,
		types.StringError("generation failed"),
	)
	ShuttingDownError = echo.NewHTTPError(
		http.StatusServiceUnavailable,
		types.StringError("server is shutting down"),
	)
	TooManyRequestsError = echo.NewHTTPError(
		http.StatusTooManyRequests,
		types.StringError("rate limit exceeded"),
	)
)
