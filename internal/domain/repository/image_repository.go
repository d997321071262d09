// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-ai-api/internal/domain/entity"
)

// ImageRepository 插图仓储接口。
// 状态迁移方法带条件写：当前状态不满足前置条件时不做任何修改并返回 false，
// 调用方以此实现"终态不可覆盖"的守卫（取消后迟到的结果必须是 no-op）。
type ImageRepository interface {
	// Create 创建插图行
	Create(ctx context.Context, image *entity.Image) error

	// GetByID 根据 ID 获取插图
	GetByID(ctx context.Context, id string) (*entity.Image, error)

	// MarkProcessing 条件迁移 pending -> processing
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// MarkComplete 条件迁移 processing -> complete，同时写入资产 URL
	MarkComplete(ctx context.Context, id, assetURL string) (bool, error)

	// MarkError 条件迁移 {pending,processing} -> error，记录原因
	MarkError(ctx context.Context, id, errMsg string) (bool, error)

	// Cancel 条件迁移 任意非终态 -> cancelled
	Cancel(ctx context.Context, id string) (bool, error)

	// ListByOwner 获取归属方的全部插图行（含历史行）
	ListByOwner(ctx context.Context, ownerType entity.ImageOwnerType, ownerID string) ([]*entity.Image, error)
}
