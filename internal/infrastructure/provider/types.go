// Package provider 提供多厂商 AI 推理客户端与响应归一化
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params 文本生成参数
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// ResponseFormat 为 "json_object" 时要求模型输出 JSON
	ResponseFormat string
}

// ImageParams 图像生成参数
type ImageParams struct {
	Model       string
	AspectRatio string
	// ReferenceImages 角色参考图 URL，仅转发场景中出场角色的
	ReferenceImages []string
}

// Usage Token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice 候选回复
type Choice struct {
	Message Message `json:"message"`
}

// CanonicalResponse 归一化后的统一响应形状。
// 各厂商的原生形状（response / generated_text / choices[0].message.content）
// 都映射到这里，上层不感知厂商差异。
type CanonicalResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	// UsageEstimated 厂商未返回用量、Token 数为 ceil(len/4) 估算值。
	// 估算值只用于观测，不可作为计费依据。
	UsageEstimated bool `json:"usage_estimated,omitempty"`
}

// CompletionText 取第一个候选的文本，无候选时返回空串
func (r *CanonicalResponse) CompletionText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Failure 结构化失败。厂商错误载荷和传输异常都收敛到这里，
// 这一层之外不会再有未处理的故障冒泡。
type Failure struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// Error 实现 error 接口
func (f *Failure) Error() string {
	return fmt.Sprintf("provider failure (status %d): %s", f.StatusCode, f.Message)
}

// Transient 是否传输层故障。厂商根本没收到请求或没回完响应，
// 重试同一调用是安全的；厂商明确拒绝的错误不算。
func (f *Failure) Transient() bool {
	return strings.HasPrefix(f.Message, "transport failure")
}

// CallStats 单次调用的观测数据，无论成败都可取
type CallStats struct {
	Provider   string
	Operation  string
	StartedAt  time.Time
	FinishedAt time.Time
	StatusCode int
	Err        string
}

// Duration 调用耗时
func (s CallStats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Result 一次文本调用的完整结果
type Result struct {
	Response *CanonicalResponse
	Failure  *Failure
	Stats    CallStats
}

// Failed 调用是否失败
func (r *Result) Failed() bool {
	return r.Failure != nil
}

// ImageResult 一次图像调用的完整结果。URL 是厂商侧的临时地址，
// 调用方负责转存到持久存储。
type ImageResult struct {
	URL     string
	Model   string
	Failure *Failure
	Stats   CallStats
}

// Failed 调用是否失败
func (r *ImageResult) Failed() bool {
	return r.Failure != nil
}

// Client 厂商客户端契约。实现不抛出普通失败，
// 统一以 Result.Failure 返回，调用方检查后自行决策。
type Client interface {
	// Name 厂商名称（openai/llama/nemotron3）
	Name() string

	// DefaultModel 未指定模型时使用的默认模型
	DefaultModel() string

	// CostPer1KTokens 每千 Token 成本，自托管模型为 0
	CostPer1KTokens() float64

	// Complete 单轮补全
	Complete(ctx context.Context, prompt string, params Params) *Result

	// Chat 多轮对话
	Chat(ctx context.Context, messages []Message, params Params) *Result

	// Image 图像生成
	Image(ctx context.Context, prompt string, params ImageParams) *ImageResult
}
