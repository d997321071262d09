// Package provider 提供多厂商 AI 推理客户端与响应归一化
package provider

import (
	"strings"
)

// estimateTokens 按 ceil(len/4) 估算 Token 数。
// 近似值，厂商未返回用量时兜底用，不可对账。
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// ensureUsage 补齐缺失的用量字段并打上估算标记
func ensureUsage(resp *CanonicalResponse) {
	if resp.Usage.TotalTokens > 0 {
		return
	}

	completion := estimateTokens(resp.CompletionText())
	resp.Usage = Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: completion,
		TotalTokens:      resp.Usage.PromptTokens + completion,
	}
	resp.UsageEstimated = true
}

// openAIChatResponse OpenAI 原生响应
type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// normalizeOpenAI OpenAI choices[0].message.content → 统一形状
func normalizeOpenAI(raw openAIChatResponse) *CanonicalResponse {
	resp := &CanonicalResponse{
		ID:    raw.ID,
		Model: raw.Model,
	}
	for _, c := range raw.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Message: Message{Role: c.Message.Role, Content: c.Message.Content},
		})
	}
	if raw.Usage != nil {
		resp.Usage = *raw.Usage
	}
	ensureUsage(resp)
	return resp
}

// llamaResponse 自托管 Llama 推理服务原生响应
type llamaResponse struct {
	ID            string `json:"id"`
	Model         string `json:"model"`
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error"`
}

// normalizeLlama generated_text → 统一形状。该服务不返回用量，一律估算。
func normalizeLlama(raw llamaResponse, model string) *CanonicalResponse {
	if raw.Model == "" {
		raw.Model = model
	}
	resp := &CanonicalResponse{
		ID:    raw.ID,
		Model: raw.Model,
		Choices: []Choice{
			{Message: Message{Role: RoleAssistant, Content: strings.TrimSpace(raw.GeneratedText)}},
		},
	}
	ensureUsage(resp)
	return resp
}

// nemotronResponse Nemotron 推理服务原生响应
type nemotronResponse struct {
	ID       string `json:"id"`
	Model    string `json:"model"`
	Response string `json:"response"`
	Usage    *Usage `json:"usage"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// normalizeNemotron response 字段 → 统一形状
func normalizeNemotron(raw nemotronResponse, model string) *CanonicalResponse {
	if raw.Model == "" {
		raw.Model = model
	}
	resp := &CanonicalResponse{
		ID:    raw.ID,
		Model: raw.Model,
		Choices: []Choice{
			{Message: Message{Role: RoleAssistant, Content: strings.TrimSpace(raw.Response)}},
		},
	}
	if raw.Usage != nil {
		resp.Usage = *raw.Usage
	}
	ensureUsage(resp)
	return resp
}
