// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"storyforge-ai-api/internal/domain/entity"
)

// BookRepository 书籍仓储实现
type BookRepository struct {
	client *Client
}

// NewBookRepository 创建书籍仓储
func NewBookRepository(client *Client) *BookRepository {
	return &BookRepository{client: client}
}

// Create 创建书籍
func (r *BookRepository) Create(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取书籍
func (r *BookRepository) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var book entity.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// Update 更新书籍
func (r *BookRepository) Update(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update book: %w", err)
	}
	return nil
}

// SetCoverImage 重指向封面图引用
func (r *BookRepository) SetCoverImage(ctx context.Context, bookID, imageID string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.SetCoverImage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).Where("id = ?", bookID).
		Update("cover_image_id", imageID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set book cover image: %w", err)
	}
	return nil
}
