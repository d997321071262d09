// Package blobstore 提供生成资产的持久化存储
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"storyforge-ai-api/internal/config"
)

// FileStore 本地文件系统存储，开发与测试环境用
type FileStore struct {
	basePath      string
	publicBaseURL string
}

// NewFileStore 创建文件系统存储
func NewFileStore(cfg *config.StorageConfig) (*FileStore, error) {
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath == "" {
		return nil, errors.New("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure base path: %w", err)
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Put 写入资产并返回可读 URL。键会被清洗，防止目录穿越。
func (s *FileStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "blobstore.FileStore.Put")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to write asset: %w", err)
	}

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + cleanKey, nil
	}
	return "file://" + fullPath, nil
}

// sanitizeKey 归一化存储键并阻止越出存储根目录
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid storage key")
	}
	return cleaned, nil
}
