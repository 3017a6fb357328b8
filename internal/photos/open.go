package photos

import (
	"context"
	"fmt"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
)

const (
	BackendInline     = "inline"
	BackendCloudinary = "cloudinary"
	BackendMinIO      = "minio"
)

// Open returns the photo store selected by cfg.PhotoBackend, or nil for
// inline storage in the record store.
func Open(ctx context.Context, cfg config.App) (attendance.PhotoStore, error) {
	switch cfg.PhotoBackend {
	case "", BackendInline:
		return nil, nil
	case BackendCloudinary:
		c := cfg.Cloudinary
		return NewCloudinary(c.CloudName, c.APIKey, c.APISecret, c.Folder), nil
	case BackendMinIO:
		m, err := NewMinIO(MinIOConfig(cfg.MinIO))
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown photo backend %q", cfg.PhotoBackend)
	}
}
