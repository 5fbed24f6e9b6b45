package upload

import (
	"context"
	"fmt"

	"github.com/museai/lora-api/internal/config"
)

// FromConfig builds the configured mirror wrapped in a RetryUploader, creating
// the bucket or container if needed. It returns nil when mirroring is off.
func FromConfig(ctx context.Context, cfg *config.MirrorConfig) (Uploader, error) {
	switch cfg.Kind {
	case config.MirrorMinio:
		u, err := NewMinioUploader(
			cfg.Minio.Endpoint,
			cfg.Minio.AccessKeyID,
			cfg.Minio.SecretAccessKey,
			cfg.Minio.SSLEnabled,
			cfg.Minio.BucketName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio uploader: %w", err)
		}
		if err := u.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		return NewRetryUploader(u), nil
	case config.MirrorAzure:
		u, err := NewAzureUploader(
			cfg.Azure.Name,
			cfg.Azure.Key,
			cfg.Azure.ServiceURL,
			cfg.Azure.Container,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure uploader: %w", err)
		}
		if err := u.EnsureContainer(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure container: %w", err)
		}
		return NewRetryUploader(u), nil
	case config.MirrorNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", cfg.Kind)
	}
}
