// Package orchestrator 提供多轮对话编排与用量核算
package orchestrator

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/infrastructure/messaging"
	"storyforge-ai-api/internal/infrastructure/provider"
	apperrors "storyforge-ai-api/pkg/errors"
	"storyforge-ai-api/pkg/logger"
	"storyforge-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("orchestrator")

// UsagePublisher 用量记录发布接口
type UsagePublisher interface {
	PublishUsage(ctx context.Context, usage *messaging.UsageMessage) (string, error)
}

// GenerationResult 一次生成调用的结果，返回后不再修改。
// 失败不抛出：Failure 非空或补全为空都表示失败，调用方必须检查。
type GenerationResult struct {
	CompletionText   string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// TokensEstimated 用量为估算值，不可对账
	TokensEstimated bool
	CostPer1KTokens float64
	TotalCost       float64
	Provider        string
	Model           string
	CorrelationID   string
	Failure         *provider.Failure
	ErrorKind       apperrors.ErrorCode
}

// Succeeded 调用是否成功产出非空补全
func (r *GenerationResult) Succeeded() bool {
	return r.Failure == nil && r.CompletionText != ""
}

// ChatOrchestrator 多轮对话编排器。持有一份对话上下文，
// 单任务独占使用，不能跨并发任务共享——每个逻辑任务建一个实例。
type ChatOrchestrator struct {
	client   provider.Client
	usage    UsagePublisher
	workflow string

	messages []provider.Message
	params   provider.Params
}

// NewChatOrchestrator 创建编排器。usage 可为 nil（不记用量）。
func NewChatOrchestrator(client provider.Client, usage UsagePublisher, workflow string) *ChatOrchestrator {
	return &ChatOrchestrator{
		client:   client,
		usage:    usage,
		workflow: workflow,
	}
}

// AddSystemMessage 追加系统消息，空文本是 no-op
func (o *ChatOrchestrator) AddSystemMessage(text string) {
	o.add(provider.RoleSystem, text)
}

// AddUserMessage 追加用户消息，空文本是 no-op
func (o *ChatOrchestrator) AddUserMessage(text string) {
	o.add(provider.RoleUser, text)
}

// AddAssistantMessage 追加助手消息，空文本是 no-op。
// 空文本直接吞掉，调用方不用为可选的提示词片段写分支。
func (o *ChatOrchestrator) AddAssistantMessage(text string) {
	o.add(provider.RoleAssistant, text)
}

func (o *ChatOrchestrator) add(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	o.messages = append(o.messages, provider.Message{Role: role, Content: text})
}

// ResetMessages 清空对话上下文，生成参数保留
func (o *ChatOrchestrator) ResetMessages() {
	o.messages = nil
}

// Messages 当前对话上下文的副本
func (o *ChatOrchestrator) Messages() []provider.Message {
	out := make([]provider.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// SetResponseFormat 配置下一次调用的输出格式（"json_object" 或空）
func (o *ChatOrchestrator) SetResponseFormat(format string) {
	o.params.ResponseFormat = format
}

// SetTemperature 配置采样温度
func (o *ChatOrchestrator) SetTemperature(temperature float64) {
	o.params.Temperature = temperature
}

// SetMaxTokens 配置最大生成 Token 数
func (o *ChatOrchestrator) SetMaxTokens(maxTokens int) {
	o.params.MaxTokens = maxTokens
}

// SetModel 配置模型，空串回落到客户端默认模型
func (o *ChatOrchestrator) SetModel(model string) {
	o.params.Model = model
}

// Chat 发送完整上下文并提取补全与用量。失败时返回空补全加结构化错误，
// 不抛出；用量记录走 fire-and-forget，永远不阻塞也不影响本次生成。
func (o *ChatOrchestrator) Chat(ctx context.Context) *GenerationResult {
	ctx, span := tracer.Start(ctx, "orchestrator.Chat",
		trace.WithAttributes(
			attribute.String("provider", o.client.Name()),
			attribute.String("workflow", o.workflow),
			attribute.Int("messages.count", len(o.messages)),
		))
	defer span.End()

	result := &GenerationResult{
		Provider:        o.client.Name(),
		Model:           o.params.Model,
		CostPer1KTokens: o.client.CostPer1KTokens(),
		CorrelationID:   uuid.NewString(),
	}
	if result.Model == "" {
		result.Model = o.client.DefaultModel()
	}

	raw := o.client.Chat(ctx, o.messages, o.params)

	if raw.Failed() {
		span.RecordError(raw.Failure)
		result.Failure = raw.Failure
		result.ErrorKind = classifyFailure(raw.Failure)
		o.recordUsage(ctx, result, raw.Stats.Duration().Milliseconds())
		return result
	}

	resp := raw.Response
	result.CompletionText = strings.TrimSpace(resp.CompletionText())
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.TotalTokens = resp.Usage.TotalTokens
	result.TokensEstimated = resp.UsageEstimated
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.TotalCost = Round8(result.CostPer1KTokens * float64(result.TotalTokens) / 1000)

	if result.CompletionText == "" {
		result.ErrorKind = apperrors.CodeEmptyCompletion
		result.Failure = &provider.Failure{
			StatusCode: raw.Stats.StatusCode,
			Message:    "provider returned an empty completion",
		}
	}

	metrics.TokensConsumedTotal.WithLabelValues(result.Provider, result.Model, "prompt").
		Add(float64(result.PromptTokens))
	metrics.TokensConsumedTotal.WithLabelValues(result.Provider, result.Model, "completion").
		Add(float64(result.CompletionTokens))
	metrics.GenerationCostTotal.WithLabelValues(result.Provider, result.Model).
		Add(result.TotalCost)

	o.recordUsage(ctx, result, raw.Stats.Duration().Milliseconds())
	return result
}

// recordUsage 异步发布用量记录。发布失败只记日志。
func (o *ChatOrchestrator) recordUsage(ctx context.Context, result *GenerationResult, durationMs int64) {
	if o.usage == nil {
		return
	}

	msg := &messaging.UsageMessage{
		Provider:         result.Provider,
		Model:            result.Model,
		Workflow:         o.workflow,
		CorrelationID:    result.CorrelationID,
		TokensPrompt:     result.PromptTokens,
		TokensCompletion: result.CompletionTokens,
		TokensTotal:      result.TotalTokens,
		TokensEstimated:  result.TokensEstimated,
		Cost:             result.TotalCost,
		DurationMs:       durationMs,
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := o.usage.PublishUsage(bgCtx, msg); err != nil {
			logger.FromContext(bgCtx).Error("failed to publish usage record",
				"error", err,
				"correlation_id", msg.CorrelationID,
			)
		}
	}()
}

// classifyFailure 把厂商失败映射到错误分类
func classifyFailure(f *provider.Failure) apperrors.ErrorCode {
	if f.Transient() {
		return apperrors.CodeTransportFailure
	}
	return apperrors.CodeProviderError
}

// Round8 保留 8 位小数的四舍五入，用于成本核算
func Round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}
