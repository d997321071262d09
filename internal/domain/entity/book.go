// Package entity 定义领域实体
package entity

import (
	"time"
)

// BookStatus 书籍状态
type BookStatus string

const (
	BookStatusDraft      BookStatus = "draft"
	BookStatusGenerating BookStatus = "generating"
	BookStatusComplete   BookStatus = "complete"
	BookStatusError      BookStatus = "error"
)

// Book 书籍实体（一个连载故事的根）
type Book struct {
	ID       string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title    string     `json:"title,omitempty" gorm:"type:varchar(255)"`
	Premise  string     `json:"premise,omitempty" gorm:"type:text"`
	Genre    string     `json:"genre,omitempty" gorm:"type:varchar(64)"`
	AgeLevel int        `json:"age_level" gorm:"default:9"`
	Format   UnitFormat `json:"format" gorm:"type:varchar(32);default:'chapter'"`
	Status   BookStatus `json:"status" gorm:"type:varchar(32);default:'draft'"`
	// CoverImageID 当前封面图引用（owner reference field，可重指向，历史行保留）
	CoverImageID string    `json:"cover_image_id,omitempty" gorm:"type:uuid"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Book) TableName() string {
	return "books"
}

// NewBook 创建新书籍
func NewBook(genre string, ageLevel int, format UnitFormat) *Book {
	now := time.Now()
	if format == "" {
		format = UnitFormatChapter
	}
	return &Book{
		Genre:     genre,
		AgeLevel:  ageLevel,
		Format:    format,
		Status:    BookStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetCoverImage 重指向封面图引用
func (b *Book) SetCoverImage(imageID string) {
	b.CoverImageID = imageID
	b.UpdatedAt = time.Now()
}
