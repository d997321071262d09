// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"storyforge-ai-api/internal/domain/entity"
)

// CharacterRepository 角色档案仓储实现
type CharacterRepository struct {
	client *Client
}

// NewCharacterRepository 创建角色档案仓储
func NewCharacterRepository(client *Client) *CharacterRepository {
	return &CharacterRepository{client: client}
}

// Create 创建角色档案
func (r *CharacterRepository) Create(ctx context.Context, character *entity.CharacterProfile) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(character).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取角色档案
func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*entity.CharacterProfile, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var character entity.CharacterProfile
	if err := db.First(&character, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return &character, nil
}

// Update 更新角色档案
func (r *CharacterRepository) Update(ctx context.Context, character *entity.CharacterProfile) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(character).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update character: %w", err)
	}
	return nil
}

// SetPortraitImage 重指向肖像图引用
func (r *CharacterRepository) SetPortraitImage(ctx context.Context, characterID, imageID string) error {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.SetPortraitImage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.CharacterProfile{}).Where("id = ?", characterID).
		Update("portrait_image_id", imageID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set character portrait image: %w", err)
	}
	return nil
}

// ListByBook 按创建顺序获取书籍的全部角色
func (r *CharacterRepository) ListByBook(ctx context.Context, bookID string) ([]*entity.CharacterProfile, error) {
	ctx, span := tracer.Start(ctx, "postgres.CharacterRepository.ListByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var characters []*entity.CharacterProfile
	if err := db.Where("book_id = ?", bookID).
		Order("created_at ASC").
		Find(&characters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}
