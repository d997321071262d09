// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-ai-api/internal/domain/entity"
)

// LLMUsageEventRepository 用量事件仓储接口
type LLMUsageEventRepository interface {
	// Create 写入一条用量事件
	Create(ctx context.Context, event *entity.LLMUsageEvent) error
}
