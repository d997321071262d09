// Package provider 提供多厂商 AI 推理客户端与响应归一化
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/config"
	"storyforge-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("provider")

const (
	ProviderOpenAI    = "openai"
	ProviderLlama     = "llama"
	ProviderNemotron3 = "nemotron3"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIClient OpenAI 客户端，文本走 chat/completions，图像走 images/generations
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	imageModel  string
	costPer1K   float64
	client      *http.Client
	imageClient *http.Client
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg *config.OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	imageTimeout := cfg.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = 5 * time.Minute
	}

	return &OpenAIClient{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     baseURL,
		model:       cfg.Model,
		imageModel:  cfg.ImageModel,
		costPer1K:   cfg.CostPer1KTokens,
		client:      &http.Client{Timeout: timeout},
		imageClient: &http.Client{Timeout: imageTimeout},
	}, nil
}

// Name 厂商名称
func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// DefaultModel 默认模型
func (c *OpenAIClient) DefaultModel() string { return c.model }

// CostPer1KTokens 每千 Token 成本
func (c *OpenAIClient) CostPer1KTokens() float64 { return c.costPer1K }

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Complete 单轮补全
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, params Params) *Result {
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat 多轮对话
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, params Params) *Result {
	ctx, span := tracer.Start(ctx, "provider.openai.Chat",
		trace.WithAttributes(attribute.Int("messages.count", len(messages))))
	defer span.End()

	model := params.Model
	if model == "" {
		model = c.model
	}

	payload := openAIChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	if params.ResponseFormat != "" {
		payload.ResponseFormat = &responseFormat{Type: params.ResponseFormat}
	}

	stats := CallStats{Provider: ProviderOpenAI, Operation: "chat", StartedAt: time.Now()}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// 传输异常等价于 500，绝不裸抛
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("transport failure: %v", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	stats.StatusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failResult(&stats, http.StatusInternalServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	var raw openAIChatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return failResult(&stats, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("openai status %d", resp.StatusCode)
		if raw.Error != nil && raw.Error.Message != "" {
			msg = raw.Error.Message
		}
		return failResult(&stats, resp.StatusCode, msg)
	}
	if raw.Error != nil {
		return failResult(&stats, resp.StatusCode, raw.Error.Message)
	}
	if len(raw.Choices) == 0 {
		return failResult(&stats, resp.StatusCode, "no choices returned")
	}

	finish(&stats, "")
	return &Result{Response: normalizeOpenAI(raw), Stats: stats}
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
	// ReferenceImages 出场角色参考图，兼容自托管网关的扩展字段
	ReferenceImages []string `json:"reference_images,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Image 图像生成，返回厂商侧的临时 URL
func (c *OpenAIClient) Image(ctx context.Context, prompt string, params ImageParams) *ImageResult {
	ctx, span := tracer.Start(ctx, "provider.openai.Image")
	defer span.End()

	model := params.Model
	if model == "" {
		model = c.imageModel
	}

	payload := openAIImageRequest{
		Model:           model,
		Prompt:          prompt,
		Size:            aspectRatioToSize(params.AspectRatio),
		N:               1,
		ReferenceImages: params.ReferenceImages,
	}

	stats := CallStats{Provider: ProviderOpenAI, Operation: "image", StartedAt: time.Now()}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return failImage(&stats, model, http.StatusInternalServerError, fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", &buf)
	if err != nil {
		return failImage(&stats, model, http.StatusInternalServerError, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.imageClient.Do(httpReq)
	if err != nil {
		return failImage(&stats, model, http.StatusInternalServerError, fmt.Sprintf("transport failure: %v", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	stats.StatusCode = resp.StatusCode

	var raw openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return failImage(&stats, model, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("openai status %d", resp.StatusCode)
		if raw.Error != nil && raw.Error.Message != "" {
			msg = raw.Error.Message
		}
		return failImage(&stats, model, resp.StatusCode, msg)
	}
	if len(raw.Data) == 0 || raw.Data[0].URL == "" {
		return failImage(&stats, model, resp.StatusCode, "no image returned")
	}

	finish(&stats, "")
	return &ImageResult{URL: raw.Data[0].URL, Model: model, Stats: stats}
}

// aspectRatioToSize 宽高比映射到 OpenAI 的枚举尺寸
func aspectRatioToSize(aspectRatio string) string {
	switch aspectRatio {
	case "16:9":
		return "1792x1024"
	case "9:16":
		return "1024x1792"
	case "1:1", "":
		return "1024x1024"
	default:
		return "1024x1024"
	}
}

// finish 收尾统计并上报指标
func finish(stats *CallStats, errMsg string) {
	stats.FinishedAt = time.Now()
	stats.Err = errMsg

	status := "success"
	if errMsg != "" {
		status = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(stats.Provider, stats.Operation, status).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(stats.Provider, stats.Operation).
		Observe(stats.Duration().Seconds())
}

// failResult 构造文本调用失败结果
func failResult(stats *CallStats, statusCode int, msg string) *Result {
	if stats.StatusCode == 0 {
		stats.StatusCode = statusCode
	}
	finish(stats, msg)
	return &Result{
		Failure: &Failure{StatusCode: statusCode, Message: msg},
		Stats:   *stats,
	}
}

// failImage 构造图像调用失败结果
func failImage(stats *CallStats, model string, statusCode int, msg string) *ImageResult {
	if stats.StatusCode == 0 {
		stats.StatusCode = statusCode
	}
	finish(stats, msg)
	return &ImageResult{
		Model:   model,
		Failure: &Failure{StatusCode: statusCode, Message: msg},
		Stats:   *stats,
	}
}
