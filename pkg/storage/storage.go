// Package storage 提供了与对象存储服务（MinIO 或 S3 兼容存储）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"kazakh-hub/internal/config"
)

// DefaultPresignExpiry 是预签名下载地址的默认有效期。
const DefaultPresignExpiry = time.Hour

// ObjectStore 是记录服务用于卸载图片内容的对象存储。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// New 根据 storage.driver 创建对象存储客户端。
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "", "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
