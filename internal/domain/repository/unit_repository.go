// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-ai-api/internal/domain/entity"
)

// UnitRepository 叙事单元仓储接口
type UnitRepository interface {
	// Create 创建叙事单元
	Create(ctx context.Context, unit *entity.NarrativeUnit) error

	// GetByID 根据 ID 获取叙事单元
	GetByID(ctx context.Context, id string) (*entity.NarrativeUnit, error)

	// Update 更新叙事单元
	Update(ctx context.Context, unit *entity.NarrativeUnit) error

	// UpdateStatus 更新状态（失败时只写状态与错误信息，保留既有正文）
	UpdateStatus(ctx context.Context, id string, status entity.UnitStatus, errMsg string) error

	// SetHeaderImage 重指向章头图引用
	SetHeaderImage(ctx context.Context, unitID, imageID string) error

	// ListByBook 按序号升序获取书籍的全部单元
	ListByBook(ctx context.Context, bookID string) ([]*entity.NarrativeUnit, error)

	// GetByBookAndSeq 根据书籍和序号获取单元
	GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.NarrativeUnit, error)

	// CountCompleted 统计书籍内已完成的单元数（用于分配下一个序号）
	CountCompleted(ctx context.Context, bookID string) (int, error)
}
