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

// Nemotron3Client Nemotron 推理服务客户端。
// 原生响应把补全文本放在顶层 response 字段。
type Nemotron3Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewNemotron3Client 创建 Nemotron 客户端
func NewNemotron3Client(cfg *config.Nemotron3Config) (*Nemotron3Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("nemotron3 base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Nemotron3Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name 厂商名称
func (c *Nemotron3Client) Name() string { return ProviderNemotron3 }

// DefaultModel 默认模型
func (c *Nemotron3Client) DefaultModel() string { return c.model }

// CostPer1KTokens 自托管，无成本
func (c *Nemotron3Client) CostPer1KTokens() float64 { return 0 }

type nemotronRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	JSONOutput  bool      `json:"json_output,omitempty"`
}

// Complete 单轮补全
func (c *Nemotron3Client) Complete(ctx context.Context, prompt string, params Params) *Result {
	return c.call(ctx, nemotronRequest{Prompt: prompt}, params, "complete")
}

// Chat 多轮对话
func (c *Nemotron3Client) Chat(ctx context.Context, messages []Message, params Params) *Result {
	return c.call(ctx, nemotronRequest{Messages: messages}, params, "chat")
}

func (c *Nemotron3Client) call(ctx context.Context, payload nemotronRequest, params Params, operation string) *Result {
	ctx, span := tracer.Start(ctx, "provider.nemotron3."+operation,
		trace.WithAttributes(attribute.String("model", params.Model)))
	defer span.End()

	payload.Model = params.Model
	if payload.Model == "" {
		payload.Model = c.model
	}
	payload.Temperature = params.Temperature
	payload.MaxTokens = params.MaxTokens
	payload.JSONOutput = params.ResponseFormat != ""

	stats := CallStats{Provider: ProviderNemotron3, Operation: operation, StartedAt: time.Now()}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", &buf)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("transport failure: %v", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	stats.StatusCode = resp.StatusCode

	var raw nemotronResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return failResult(&stats, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("nemotron3 status %d", resp.StatusCode)
		if raw.Error != nil && raw.Error.Message != "" {
			msg = raw.Error.Message
		}
		return failResult(&stats, resp.StatusCode, msg)
	}
	if raw.Error != nil {
		return failResult(&stats, resp.StatusCode, raw.Error.Message)
	}

	finish(&stats, "")
	return &Result{Response: normalizeNemotron(raw, payload.Model), Stats: stats}
}

// Image 该服务不支持图像生成
func (c *Nemotron3Client) Image(ctx context.Context, prompt string, params ImageParams) *ImageResult {
	stats := CallStats{Provider: ProviderNemotron3, Operation: "image", StartedAt: time.Now()}
	return failImage(&stats, params.Model, http.StatusNotImplemented, "image generation not supported by nemotron3 provider")
}
