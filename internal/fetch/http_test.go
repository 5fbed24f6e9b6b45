package fetch_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/museai/lora-api/internal/fetch"
)

func TestHttp(t *testing.T) {
	ctx := context.Background()

	e := echo.New()
	rootContent := "hello world"
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, rootContent)
	})
	e.GET("/chunked", func(c echo.Context) error {
		c.Response().WriteHeader(http.StatusOK)
		for range 4 {
			if _, err := io.WriteString(c.Response(), rootContent); err != nil {
				return err
			}
			c.Response().Flush()
		}
		return nil
	})

	server := httptest.NewServer(e)
	defer server.Close()

	t.Run("ValidPath", func(t *testing.T) {
		expected := []byte(rootContent)
		fetcher := fetch.NewHTTPFetcher(retryablehttp.NewClient().StandardClient(), 0)
		body, err := fetcher.Fetch(ctx, fmt.Sprintf("%s/", server.URL))
		require.NoError(t, err, "failed to fetch")
		defer body.Close()

		actual, err := io.ReadAll(body)
		require.NoError(t, err, "failed to read content")

		require.Equal(t, expected, actual, "wrong body fetched")
	})

	t.Run("InvalidPath", func(t *testing.T) {
		fetcher := fetch.NewHTTPFetcher(retryablehttp.NewClient().StandardClient(), 0)
		_, err := fetcher.Fetch(ctx, fmt.Sprintf("%s/foobar", server.URL))
		require.Error(t, err, "expected to fail")
	})

	t.Run("ExactLimit", func(t *testing.T) {
		fetcher := fetch.NewHTTPFetcher(http.DefaultClient, int64(len(rootContent)))
		actual, err := fetch.ReadAll(ctx, fetcher, server.URL+"/")
		require.NoError(t, err)
		require.Equal(t, rootContent, string(actual))
	})

	t.Run("ContentLengthOverLimit", func(t *testing.T) {
		fetcher := fetch.NewHTTPFetcher(http.DefaultClient, 4)
		_, err := fetcher.Fetch(ctx, server.URL+"/")
		require.ErrorIs(t, err, fetch.ErrTooLarge)
	})

	t.Run("StreamOverLimit", func(t *testing.T) {
		limit := int64(len(rootContent) * 2)
		fetcher := fetch.NewHTTPFetcher(http.DefaultClient, limit)
		actual, err := fetch.ReadAll(ctx, fetcher, server.URL+"/chunked")
		require.ErrorIs(t, err, fetch.ErrTooLarge)
		require.Equal(t, strings.Repeat(rootContent, 2), string(actual))
	})
}
