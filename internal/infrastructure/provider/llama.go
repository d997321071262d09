// Package provider 提供多厂商 AI 推理客户端与响应归一化
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/config"
)

// LlamaClient 自托管 Llama 推理服务客户端。
// 自托管模型不计费，CostPer1KTokens 恒为 0。
type LlamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLlamaClient 创建 Llama 客户端
func NewLlamaClient(cfg *config.LlamaConfig) (*LlamaClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llama base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &LlamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name 厂商名称
func (c *LlamaClient) Name() string { return ProviderLlama }

// DefaultModel 默认模型
func (c *LlamaClient) DefaultModel() string { return c.model }

// CostPer1KTokens 自托管，无成本
func (c *LlamaClient) CostPer1KTokens() float64 { return 0 }

type llamaRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Format      string    `json:"format,omitempty"`
}

// Complete 单轮补全
func (c *LlamaClient) Complete(ctx context.Context, prompt string, params Params) *Result {
	return c.call(ctx, llamaRequest{Prompt: prompt}, params, "complete")
}

// Chat 多轮对话
func (c *LlamaClient) Chat(ctx context.Context, messages []Message, params Params) *Result {
	return c.call(ctx, llamaRequest{Messages: messages}, params, "chat")
}

func (c *LlamaClient) call(ctx context.Context, payload llamaRequest, params Params, operation string) *Result {
	ctx, span := tracer.Start(ctx, "provider.llama."+operation,
		trace.WithAttributes(attribute.String("model", params.Model)))
	defer span.End()

	payload.Model = params.Model
	if payload.Model == "" {
		payload.Model = c.model
	}
	payload.Temperature = params.Temperature
	payload.MaxTokens = params.MaxTokens
	if params.ResponseFormat != "" {
		payload.Format = "json"
	}

	stats := CallStats{Provider: ProviderLlama, Operation: operation, StartedAt: time.Now()}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", &buf)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("transport failure: %v", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	stats.StatusCode = resp.StatusCode

	var raw llamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return failResult(&stats, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("llama status %d", resp.StatusCode)
		if raw.Error != "" {
			msg = raw.Error
		}
		return failResult(&stats, resp.StatusCode, msg)
	}
	if raw.Error != "" {
		return failResult(&stats, resp.StatusCode, raw.Error)
	}

	finish(&stats, "")
	return &Result{Response: normalizeLlama(raw, payload.Model), Stats: stats}
}

// Image 该服务不支持图像生成
func (c *LlamaClient) Image(ctx context.Context, prompt string, params ImageParams) *ImageResult {
	stats := CallStats{Provider: ProviderLlama, Operation: "image", StartedAt: time.Now()}
	return failImage(&stats, params.Model, http.StatusNotImplemented, "image generation not supported by llama provider")
}
