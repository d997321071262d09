// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-ai-api/internal/domain/entity"
)

// CharacterRepository 角色档案仓储接口
type CharacterRepository interface {
	// Create 创建角色档案
	Create(ctx context.Context, character *entity.CharacterProfile) error

	// GetByID 根据 ID 获取角色档案
	GetByID(ctx context.Context, id string) (*entity.CharacterProfile, error)

	// Update 更新角色档案
	Update(ctx context.Context, character *entity.CharacterProfile) error

	// SetPortraitImage 重指向肖像图引用
	SetPortraitImage(ctx context.Context, characterID, imageID string) error

	// ListByBook 按创建顺序获取书籍的全部角色
	ListByBook(ctx context.Context, bookID string) ([]*entity.CharacterProfile, error)
}
