// Package blobstore 提供生成资产的持久化存储
package blobstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"storyforge-ai-api/internal/config"
)

var tracer = otel.Tracer("blobstore")

// Store 资产存储契约。Put 返回的 URL 必须稳定且可直接拉取。
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// New 按配置选择存储后端
func New(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "filesystem":
		return NewFileStore(cfg)
	case "http", "":
		return NewHTTPStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
