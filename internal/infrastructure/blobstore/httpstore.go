// Package blobstore 提供生成资产的持久化存储
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyforge-ai-api/internal/config"
)

// HTTPStore 对象存储的 HTTP 写入客户端。
// PUT <endpoint>/<key> 写入，读取走 <public_base_url>/<key>。
type HTTPStore struct {
	endpoint      string
	publicBaseURL string
	accessToken   string
	client        *http.Client
}

// NewHTTPStore 创建 HTTP 对象存储客户端
func NewHTTPStore(cfg *config.StorageConfig) (*HTTPStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, errors.New("storage public base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPStore{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		accessToken:   cfg.AccessToken,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

// Put 写入资产并返回稳定可读的 URL
func (s *HTTPStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "blobstore.HTTPStore.Put")
	defer span.End()

	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint+"/"+cleanKey, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build storage request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("storage returned status %d", resp.StatusCode)
		span.RecordError(err)
		return "", err
	}

	return s.publicBaseURL + "/" + cleanKey, nil
}
