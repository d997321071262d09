// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"storyforge-ai-api/internal/domain/entity"
)

// ImageRepository 插图仓储实现。
// 状态迁移一律带 WHERE status 前置条件的条件写：当前状态不满足时
// RowsAffected 为 0，返回 false 且不改动任何列。取消后迟到的结果
// 靠这一层在数据库侧挡掉，不依赖调用方的内存状态。
type ImageRepository struct {
	client *Client
}

// NewImageRepository 创建插图仓储
func NewImageRepository(client *Client) *ImageRepository {
	return &ImageRepository{client: client}
}

// Create 创建插图行
func (r *ImageRepository) Create(ctx context.Context, image *entity.Image) error {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(image).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取插图
func (r *ImageRepository) GetByID(ctx context.Context, id string) (*entity.Image, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var image entity.Image
	if err := db.First(&image, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &image, nil
}

// MarkProcessing 条件迁移 {pending,processing} -> processing。
// processing 行允许再次进入，传输层故障后的重投走同一行。
func (r *ImageRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.MarkProcessing")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Image{}).
		Where("id = ? AND status IN ?", id, []entity.ImageStatus{
			entity.ImageStatusPending,
			entity.ImageStatusProcessing,
		}).
		Update("status", entity.ImageStatusProcessing)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to mark image processing: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkComplete 条件迁移 processing -> complete。complete 只与资产 URL 一起写入。
func (r *ImageRepository) MarkComplete(ctx context.Context, id, assetURL string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.MarkComplete")
	defer span.End()

	if assetURL == "" {
		return false, fmt.Errorf("cannot complete image %s without an asset url", id)
	}

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Image{}).
		Where("id = ? AND status = ?", id, entity.ImageStatusProcessing).
		Updates(map[string]interface{}{
			"status":        entity.ImageStatusComplete,
			"asset_url":     assetURL,
			"error_message": "",
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to mark image complete: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkError 条件迁移 {pending,processing} -> error
func (r *ImageRepository) MarkError(ctx context.Context, id, errMsg string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.MarkError")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Image{}).
		Where("id = ? AND status IN ?", id, []entity.ImageStatus{
			entity.ImageStatusPending,
			entity.ImageStatusProcessing,
		}).
		Updates(map[string]interface{}{
			"status":        entity.ImageStatusError,
			"error_message": errMsg,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to mark image error: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Cancel 条件迁移 任意非终态 -> cancelled
func (r *ImageRepository) Cancel(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.Cancel")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Image{}).
		Where("id = ? AND status IN ?", id, []entity.ImageStatus{
			entity.ImageStatusPending,
			entity.ImageStatusProcessing,
		}).
		Update("status", entity.ImageStatusCancelled)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to cancel image: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByOwner 获取归属方的全部插图行（含被替换的历史行）
func (r *ImageRepository) ListByOwner(ctx context.Context, ownerType entity.ImageOwnerType, ownerID string) ([]*entity.Image, error) {
	ctx, span := tracer.Start(ctx, "postgres.ImageRepository.ListByOwner")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var images []*entity.Image
	if err := db.Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Order("created_at ASC").
		Find(&images).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list images by owner: %w", err)
	}
	return images, nil
}
