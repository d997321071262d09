// Package entity 定义领域实体
package entity

import "time"

// LLMUsageEvent 一次模型调用的用量与成本记录。
// 缺失 usage 时 token 数为 chars/4 估算值，仅供观测，不作计费依据。
type LLMUsageEvent struct {
	ID               string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider         string    `json:"provider" gorm:"type:varchar(32);not null"`
	Model            string    `json:"model" gorm:"type:varchar(64);not null"`
	Workflow         string    `json:"workflow,omitempty" gorm:"type:varchar(64)"`
	CorrelationID    string    `json:"correlation_id,omitempty" gorm:"type:varchar(64);index"`
	TokensPrompt     int       `json:"tokens_prompt" gorm:"not null;default:0"`
	TokensCompletion int       `json:"tokens_completion" gorm:"not null;default:0"`
	TokensTotal      int       `json:"tokens_total" gorm:"not null;default:0"`
	TokensEstimated  bool      `json:"tokens_estimated" gorm:"not null;default:false"`
	Cost             float64   `json:"cost" gorm:"not null;default:0"`
	DurationMs       int       `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (LLMUsageEvent) TableName() string {
	return "llm_usage_events"
}
