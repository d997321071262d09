// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"storyforge-ai-api/internal/domain/entity"
)

// UnitRepository 叙事单元仓储实现
type UnitRepository struct {
	client *Client
}

// NewUnitRepository 创建叙事单元仓储
func NewUnitRepository(client *Client) *UnitRepository {
	return &UnitRepository{client: client}
}

// Create 创建叙事单元
func (r *UnitRepository) Create(ctx context.Context, unit *entity.NarrativeUnit) error {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(unit).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create narrative unit: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取叙事单元
func (r *UnitRepository) GetByID(ctx context.Context, id string) (*entity.NarrativeUnit, error) {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var unit entity.NarrativeUnit
	if err := db.First(&unit, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get narrative unit: %w", err)
	}
	return &unit, nil
}

// Update 更新叙事单元
func (r *UnitRepository) Update(ctx context.Context, unit *entity.NarrativeUnit) error {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(unit).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update narrative unit: %w", err)
	}
	return nil
}

// UpdateStatus 更新状态。只写状态与错误信息两列，失败时既有正文保持原样。
func (r *UnitRepository) UpdateStatus(ctx context.Context, id string, status entity.UnitStatus, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.UpdateStatus")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.NarrativeUnit{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update narrative unit status: %w", err)
	}
	return nil
}

// SetHeaderImage 重指向章头图引用
func (r *UnitRepository) SetHeaderImage(ctx context.Context, unitID, imageID string) error {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.SetHeaderImage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.NarrativeUnit{}).Where("id = ?", unitID).
		Update("header_image_id", imageID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set unit header image: %w", err)
	}
	return nil
}

// ListByBook 按序号升序获取书籍的全部单元
func (r *UnitRepository) ListByBook(ctx context.Context, bookID string) ([]*entity.NarrativeUnit, error) {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.ListByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var units []*entity.NarrativeUnit
	if err := db.Where("book_id = ?", bookID).
		Order("seq_num ASC").
		Find(&units).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list narrative units: %w", err)
	}
	return units, nil
}

// GetByBookAndSeq 根据书籍和序号获取单元
func (r *UnitRepository) GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.NarrativeUnit, error) {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.GetByBookAndSeq")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var unit entity.NarrativeUnit
	if err := db.Where("book_id = ? AND seq_num = ?", bookID, seqNum).
		First(&unit).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get narrative unit by seq: %w", err)
	}
	return &unit, nil
}

// CountCompleted 统计书籍内已完成的单元数
func (r *UnitRepository) CountCompleted(ctx context.Context, bookID string) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.UnitRepository.CountCompleted")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var total int64
	if err := db.Model(&entity.NarrativeUnit{}).
		Where("book_id = ? AND status = ?", bookID, entity.UnitStatusComplete).
		Count(&total).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count completed units: %w", err)
	}
	return int(total), nil
}
