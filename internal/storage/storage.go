package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Supported STORAGE_DRIVER values.
const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStorage captures the S3-compatible operations the publisher needs.
type ObjectStorage interface {
	UploadFile(ctx context.Context, bucket, key, localPath string) (ObjectInfo, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// Config encapsulates the connection info for either backend.
type Config struct {
	Driver    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// New builds the backend selected by cfg.Driver. An empty driver means s3.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverS3:
		return NewS3Client(ctx, cfg)
	case DriverMinio:
		return NewMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// contentType guesses a MIME type from the object key.
func contentType(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "application/zip"
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

func regionOrDefault(region string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		return "us-east-1"
	}
	return region
}
