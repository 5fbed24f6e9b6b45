package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ensure HTTPFetcher implements Fetcher interface.
var _ Fetcher = (*HTTPFetcher)(nil)

type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// maxBytes of 0 disables the size limit
func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		client:   client,
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "HTTPFetcher.Fetch", trace.WithAttributes(
		attribute.String("url", url),
		attribute.Int64("maxBytes", f.maxBytes),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct request")
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download file")
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err = fmt.Errorf("invalid status code: %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid status code")
		return nil, err
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		err = fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
		span.RecordError(err)
		span.SetStatus(codes.Error, "file too large")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched file by http")
	if f.maxBytes > 0 {
		return &limitedBody{body: resp.Body, remaining: f.maxBytes}, nil
	}
	return resp.Body, nil
}

// limitedBody fails once more than the allowed bytes were read. A missing or
// wrong Content-Length must not let an oversized body through.
type limitedBody struct {
	body      io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// read one byte past the limit to tell an exact fit from an overflow
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.body.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), ErrTooLarge
	}
	return n, err
}

func (l *limitedBody) Close() error {
	return l.body.Close()
}
