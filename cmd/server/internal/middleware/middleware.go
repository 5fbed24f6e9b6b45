package middleware

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/museai/lora-api/cmd/server/internal/middleware")
