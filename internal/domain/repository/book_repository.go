// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-ai-api/internal/domain/entity"
)

// BookRepository 书籍仓储接口
type BookRepository interface {
	// Create 创建书籍
	Create(ctx context.Context, book *entity.Book) error

	// GetByID 根据 ID 获取书籍
	GetByID(ctx context.Context, id string) (*entity.Book, error)

	// Update 更新书籍
	Update(ctx context.Context, book *entity.Book) error

	// SetCoverImage 重指向封面图引用
	SetCoverImage(ctx context.Context, bookID, imageID string) error
}
