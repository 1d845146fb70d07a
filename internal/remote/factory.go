package remote

import (
	"context"
	"fmt"

	"inkwell/internal/config"
)

// NewBackendFromConfig creates a Backend from configuration. A "none" type
// returns (nil, nil) so callers can leave the remote tier disabled.
func NewBackendFromConfig(ctx context.Context, cfg config.RemoteConfig) (Backend, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryBackend(name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("remote %q: fs_root is required", name)
		}
		b, err := NewFileSystemBackend(name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		b, err := NewS3Backend(ctx, name, S3Options{
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Region: cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.Type)
	}
}
