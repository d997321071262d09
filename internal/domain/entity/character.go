// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"
)

// CharacterProfile 角色档案实体
type CharacterProfile struct {
	ID          string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BookID      string `json:"book_id" gorm:"type:uuid;index;not null"`
	Name        string `json:"name" gorm:"type:varchar(255);not null"`
	Age         int    `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty" gorm:"type:varchar(32)"`
	Nationality string `json:"nationality,omitempty" gorm:"type:varchar(64)"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	Backstory   string `json:"backstory,omitempty" gorm:"type:text"`
	// OriginUnitID 角色首次出现的叙事单元
	OriginUnitID string `json:"origin_unit_id,omitempty" gorm:"type:uuid;index"`
	// PortraitImageID 当前肖像图引用
	PortraitImageID string    `json:"portrait_image_id,omitempty" gorm:"type:uuid"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CharacterProfile) TableName() string {
	return "character_profiles"
}

// NewCharacterProfile 创建新角色档案
func NewCharacterProfile(bookID, name string) *CharacterProfile {
	now := time.Now()
	return &CharacterProfile{
		BookID:    bookID,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizedName 返回用于去重的规范化名称（去空白、小写）
func (c *CharacterProfile) NormalizedName() string {
	return NormalizeCharacterName(c.Name)
}

// NormalizeCharacterName 角色名去重键：大小写不敏感、去首尾空白
func NormalizeCharacterName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SetPortraitImage 重指向肖像图引用
func (c *CharacterProfile) SetPortraitImage(imageID string) {
	c.PortraitImageID = imageID
	c.UpdatedAt = time.Now()
}
