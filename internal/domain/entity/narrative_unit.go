// Package entity 定义领域实体
package entity

import (
	"time"
)

// UnitStatus 叙事单元状态
type UnitStatus string

const (
	UnitStatusDraft      UnitStatus = "draft"
	UnitStatusGenerating UnitStatus = "generating"
	UnitStatusComplete   UnitStatus = "complete"
	UnitStatusError      UnitStatus = "error"
)

// UnitFormat 叙事单元体裁
type UnitFormat string

const (
	UnitFormatChapter    UnitFormat = "chapter"
	UnitFormatTheatre    UnitFormat = "theatre"
	UnitFormatScreenplay UnitFormat = "screenplay"
)

// GenerationMetadata 生成元数据
type GenerationMetadata struct {
	Model            string  `json:"model,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalCost        float64 `json:"total_cost,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	GeneratedAt      string  `json:"generated_at,omitempty"`
}

// NarrativeUnit 叙事单元实体（一章 / 一幕 / 一场）
type NarrativeUnit struct {
	ID     string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BookID string `json:"book_id" gorm:"type:uuid;index;not null"`
	// SeqNum 按父级内已完成的兄弟数量分配，单调递增，失败后不复用
	SeqNum   int    `json:"seq_num" gorm:"not null"`
	Title    string `json:"title,omitempty" gorm:"type:varchar(255)"`
	BodyText string `json:"body_text,omitempty" gorm:"type:text"`
	// SummaryText 持久化的摘要，作为后续单元的连续性上下文
	SummaryText string `json:"summary_text,omitempty" gorm:"type:text"`
	// ContinuityContext 生成本单元时注入的上文（前一单元摘要+结尾段落）
	ContinuityContext string     `json:"continuity_context,omitempty" gorm:"type:text"`
	AgeLevel          int        `json:"age_level" gorm:"default:9"`
	Genre             string     `json:"genre,omitempty" gorm:"type:varchar(64)"`
	Format            UnitFormat `json:"format" gorm:"type:varchar(32);default:'chapter'"`
	Status            UnitStatus `json:"status" gorm:"type:varchar(32);default:'draft'"`
	ErrorMessage      string     `json:"error_message,omitempty" gorm:"type:text"`
	WordCount         int        `json:"word_count" gorm:"default:0"`
	// HeaderImageID 当前章头图引用
	HeaderImageID      string              `json:"header_image_id,omitempty" gorm:"type:uuid"`
	GenerationMetadata *GenerationMetadata `json:"generation_metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt          time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (NarrativeUnit) TableName() string {
	return "narrative_units"
}

// NewNarrativeUnit 创建新叙事单元
func NewNarrativeUnit(book *Book, seqNum int) *NarrativeUnit {
	now := time.Now()
	return &NarrativeUnit{
		BookID:    book.ID,
		SeqNum:    seqNum,
		AgeLevel:  book.AgeLevel,
		Genre:     book.Genre,
		Format:    book.Format,
		Status:    UnitStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetBody 设置正文内容
func (u *NarrativeUnit) SetBody(body string) {
	u.BodyText = body
	u.WordCount = len([]rune(body))
	u.UpdatedAt = time.Now()
}

// MarkGenerating 标记为生成中
func (u *NarrativeUnit) MarkGenerating() {
	u.Status = UnitStatusGenerating
	u.ErrorMessage = ""
	u.UpdatedAt = time.Now()
}

// MarkComplete 标记为完成
func (u *NarrativeUnit) MarkComplete() {
	u.Status = UnitStatusComplete
	u.ErrorMessage = ""
	u.UpdatedAt = time.Now()
}

// MarkError 标记为失败。已有的完整正文保持不变，绝不写入半成品。
func (u *NarrativeUnit) MarkError(msg string) {
	u.Status = UnitStatusError
	u.ErrorMessage = msg
	u.UpdatedAt = time.Now()
}

// SetHeaderImage 重指向章头图引用
func (u *NarrativeUnit) SetHeaderImage(imageID string) {
	u.HeaderImageID = imageID
	u.UpdatedAt = time.Now()
}
