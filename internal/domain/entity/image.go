// Package entity 定义领域实体
package entity

import (
	"fmt"
	"strings"
	"time"
)

// ImageStatus 插图状态
type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusComplete   ImageStatus = "complete"
	ImageStatusError      ImageStatus = "error"
	ImageStatusCancelled  ImageStatus = "cancelled"
)

// ImageOwnerType 插图归属类型
type ImageOwnerType string

const (
	ImageOwnerBookCover         ImageOwnerType = "book-cover"
	ImageOwnerCharacterPortrait ImageOwnerType = "character-portrait"
	ImageOwnerChapterHeader     ImageOwnerType = "chapter-header"
	ImageOwnerChapterInline     ImageOwnerType = "chapter-inline"
	ImageOwnerManual            ImageOwnerType = "manual"
)

// Image 插图实体。行为只追加：重新生成永远创建新行并重指向归属方的引用，
// 旧行按 id 始终可取。
type Image struct {
	ID        string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerType ImageOwnerType `json:"owner_type" gorm:"type:varchar(32);index;not null"`
	OwnerID   string         `json:"owner_id" gorm:"type:uuid;index;not null"`
	// ParagraphIndex 章内插图对应的段落序号
	ParagraphIndex *int   `json:"paragraph_index,omitempty"`
	Prompt         string `json:"prompt,omitempty" gorm:"type:text"`
	// AssetURL 仅在 status=complete 时非空
	AssetURL     string      `json:"asset_url,omitempty" gorm:"type:text"`
	Status       ImageStatus `json:"status" gorm:"type:varchar(32);default:'pending'"`
	ErrorMessage string      `json:"error_message,omitempty" gorm:"type:text"`
	AspectRatio  string      `json:"aspect_ratio,omitempty" gorm:"type:varchar(16)"`
	CreatedAt    time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Image) TableName() string {
	return "images"
}

// NewImage 创建新插图行
func NewImage(ownerTypeStr string, ownerID, prompt, aspectRatio string) *Image {
	now := time.Now()
	return &Image{
		OwnerType:   ImageOwnerType(strings.TrimSpace(ownerTypeStr)),
		OwnerID:     ownerID,
		Prompt:      prompt,
		Status:      ImageStatusPending,
		AspectRatio: aspectRatio,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal 判断当前状态是否为终态
func (i *Image) IsTerminal() bool {
	return IsTerminalImageStatus(i.Status)
}

// IsTerminalImageStatus 判断状态是否为终态
func IsTerminalImageStatus(s ImageStatus) bool {
	switch s {
	case ImageStatusComplete, ImageStatusError, ImageStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo 校验状态机迁移是否合法：
// pending -> processing -> {complete|error}；cancelled 可从任意非终态进入。
func (i *Image) CanTransitionTo(next ImageStatus) bool {
	if i.IsTerminal() {
		return false
	}
	switch next {
	case ImageStatusProcessing:
		return i.Status == ImageStatusPending
	case ImageStatusComplete:
		return i.Status == ImageStatusProcessing
	case ImageStatusError:
		return i.Status == ImageStatusPending || i.Status == ImageStatusProcessing
	case ImageStatusCancelled:
		return true
	}
	return false
}

// MarkProcessing 进入生成中。必须在任何网络调用发出之前持久化。
func (i *Image) MarkProcessing() error {
	if !i.CanTransitionTo(ImageStatusProcessing) {
		return fmt.Errorf("cannot transition image %s from %s to processing", i.ID, i.Status)
	}
	i.Status = ImageStatusProcessing
	i.UpdatedAt = time.Now()
	return nil
}

// MarkComplete 完成。assetURL 必须非空，complete 只与资产引用一起写入。
func (i *Image) MarkComplete(assetURL string) error {
	if strings.TrimSpace(assetURL) == "" {
		return fmt.Errorf("cannot complete image %s without an asset url", i.ID)
	}
	if !i.CanTransitionTo(ImageStatusComplete) {
		return fmt.Errorf("cannot transition image %s from %s to complete", i.ID, i.Status)
	}
	i.Status = ImageStatusComplete
	i.AssetURL = assetURL
	i.ErrorMessage = ""
	i.UpdatedAt = time.Now()
	return nil
}

// MarkError 失败，记录原因
func (i *Image) MarkError(msg string) error {
	if !i.CanTransitionTo(ImageStatusError) {
		return fmt.Errorf("cannot transition image %s from %s to error", i.ID, i.Status)
	}
	i.Status = ImageStatusError
	i.ErrorMessage = msg
	i.UpdatedAt = time.Now()
	return nil
}

// Cancel 取消。终态不可覆盖，对已终态的行是显式错误，调用方应视为 no-op。
func (i *Image) Cancel() error {
	if !i.CanTransitionTo(ImageStatusCancelled) {
		return fmt.Errorf("cannot cancel image %s in terminal status %s", i.ID, i.Status)
	}
	i.Status = ImageStatusCancelled
	i.UpdatedAt = time.Now()
	return nil
}

// CopyForRegeneration 基于本行创建重新生成的新行（沿用 prompt 与归属）
func (i *Image) CopyForRegeneration() *Image {
	now := time.Now()
	img := &Image{
		OwnerType:   i.OwnerType,
		OwnerID:     i.OwnerID,
		Prompt:      i.Prompt,
		Status:      ImageStatusPending,
		AspectRatio: i.AspectRatio,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if i.ParagraphIndex != nil {
		idx := *i.ParagraphIndex
		img.ParagraphIndex = &idx
	}
	return img
}
