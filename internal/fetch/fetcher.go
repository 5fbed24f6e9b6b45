// Package fetch downloads remote training images for the CLI.
package fetch

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/fetch")

var ErrTooLarge = errors.New("remote file exceeds size limit")

type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// ReadAll fetches url fully into memory.
func ReadAll(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return io.ReadAll(body)
}
