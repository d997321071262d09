// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"storyforge-ai-api/internal/domain/entity"
)

// LLMUsageEventRepository 用量事件仓储实现
type LLMUsageEventRepository struct {
	client *Client
}

// NewLLMUsageEventRepository 创建用量事件仓储
func NewLLMUsageEventRepository(client *Client) *LLMUsageEventRepository {
	return &LLMUsageEventRepository{client: client}
}

// Create 写入一条用量事件
func (r *LLMUsageEventRepository) Create(ctx context.Context, event *entity.LLMUsageEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.LLMUsageEventRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(event).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create llm usage event: %w", err)
	}
	return nil
}
