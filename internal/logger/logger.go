package logger

import (
	"log/slog"
	"os"

	slogotel "github.com/remychantenay/slog-otel"
)

// LogLevel is shared by every handler built from this package so the level can
// be changed after config is loaded.
var LogLevel = new(slog.LevelVar)

var jsonHandler = slog.NewJSONHandler(
	os.Stderr,
	&slog.HandlerOptions{AddSource: true, Level: LogLevel},
)

var Handler = slogotel.NewOtelHandler(slogotel.WithNoTraceEvents(true))(jsonHandler)
var Logger = slog.New(Handler).With("service", "lora-api")

func InitSlog() {
	slog.SetDefault(Logger)
	LogLevel.Set(slog.LevelDebug)
}

// SetLevel applies a level loaded from config, where levels are stored as the
// integer values slog uses (-4 debug, 0 info, 4 warn, 8 error).
func SetLevel(level int) {
	LogLevel.Set(slog.Level(level))
}
