package upload_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/azure/azurite"

	"github.com/museai/lora-api/internal/upload"
)

var container = "lora-models"

func TestAzure(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	ctx := context.Background()

	azuriteContainer, err := azurite.Run(
		ctx,
		"mcr.microsoft.com/azure-storage/azurite:latest",
		azurite.WithInMemoryPersistence(256),
	)
	require.NoError(t, err, "failed to make azurite container")
	defer func() {
		require.NoError(t, testcontainers.TerminateContainer(azuriteContainer))
	}()

	cred, err := azblob.NewSharedKeyCredential(azurite.AccountName, azurite.AccountKey)
	require.NoError(t, err, "failed to get creds")

	serviceURL, err := azuriteContainer.BlobServiceURL(ctx)
	require.NoError(t, err, "failed to get serviceURL")
	serviceURL = fmt.Sprintf("%s/%s", serviceURL, azurite.AccountName)

	azclient, err := azblob.NewClientWithSharedKeyCredential(
		serviceURL,
		cred,
		nil,
	)
	require.NoError(t, err, "failed to make azure blob client")

	uploader, err := upload.NewAzureUploader(
		azurite.AccountName,
		azurite.AccountKey,
		serviceURL,
		container,
	)
	require.NoError(t, err, "failed to construct uploader")

	require.NoError(t, uploader.EnsureContainer(ctx), "failed to make container")
	require.NoError(t, uploader.EnsureContainer(ctx), "second ensure should be a no-op")

	t.Run("NotExists", func(t *testing.T) {
		exists, err := uploader.Exists(ctx, "abc")
		require.NoError(t, err, "failed to check if blob exists")

		assert.False(t, exists, "blob should not exist")
	})

	t.Run("Exists", func(t *testing.T) {
		key := uuid.NewString()
		_, err := azclient.UploadBuffer(
			ctx,
			container,
			key,
			[]byte("hello world"),
			nil,
		)
		require.NoError(t, err, "failed to upload blob for testing")

		exists, err := uploader.Exists(ctx, key)
		require.NoError(t, err, "failed to check if blob exists")

		assert.True(t, exists, "blob should exist")
	})

	t.Run("Upload", func(t *testing.T) {
		key := uuid.NewString()
		expected := "abc"
		err := uploader.Upload(
			ctx,
			strings.NewReader(expected),
			int64(len(expected)),
			key,
			"application/json",
		)
		require.NoError(t, err, "failed to upload blob")

		buffer := make([]byte, len(expected))
		_, err = azclient.DownloadBuffer(ctx, container, key, buffer, nil)
		require.NoError(t, err, "failed to download blob to buffer")
		assert.Equal(t, expected, string(buffer), "content of blob should match")

		props, err := azclient.ServiceClient().
			NewContainerClient(container).
			NewBlobClient(key).
			GetProperties(ctx, nil)
		require.NoError(t, err)
		require.NotNil(t, props.ContentType)
		assert.Equal(t, "application/json", *props.ContentType)
	})

	t.Run("Hashed", func(t *testing.T) {
		body := "png bytes"
		key, err := upload.Hashed(ctx, uploader, upload.ObjectImage, strings.NewReader(body), int64(len(body)))
		require.NoError(t, err)

		exists, err := uploader.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("PresignedReadURL", func(t *testing.T) {
		key := uuid.NewString()
		expected := "presigned"
		require.NoError(t, uploader.Upload(
			ctx,
			strings.NewReader(expected),
			int64(len(expected)),
			key,
			"text/plain",
		))

		url, err := uploader.PresignedReadURL(ctx, key, time.Minute)
		require.NoError(t, err)

		//nolint:gosec // url comes from the test container
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, expected, string(body))
	})
}
