// Package usage 落盘模型调用的用量与成本记录
package usage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/domain/repository"
	"storyforge-ai-api/internal/infrastructure/messaging"
	"storyforge-ai-api/pkg/logger"
)

var tracer = otel.Tracer("usage")

// Recorder 用量事件写入器。生成工作流对用量写入是 fire-and-forget 的，
// 这里是消费端：从用量流取消息落库，失败交给调度器重试。
type Recorder struct {
	events repository.LLMUsageEventRepository
}

// NewRecorder 创建用量写入器
func NewRecorder(events repository.LLMUsageEventRepository) *Recorder {
	return &Recorder{events: events}
}

// HandleMessage 处理一条用量消息
func (r *Recorder) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	ctx, span := tracer.Start(ctx, "usage.Recorder.HandleMessage",
		trace.WithAttributes(attribute.String("message.id", msg.ID)))
	defer span.End()

	var usage messaging.UsageMessage
	if err := msg.UnmarshalPayload(&usage); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to decode usage message: %w", err)
	}

	event := &entity.LLMUsageEvent{
		Provider:         usage.Provider,
		Model:            usage.Model,
		Workflow:         usage.Workflow,
		CorrelationID:    usage.CorrelationID,
		TokensPrompt:     usage.TokensPrompt,
		TokensCompletion: usage.TokensCompletion,
		TokensTotal:      usage.TokensTotal,
		TokensEstimated:  usage.TokensEstimated,
		Cost:             usage.Cost,
		DurationMs:       int(usage.DurationMs),
	}

	if err := r.events.Create(ctx, event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to persist usage event: %w", err)
	}

	logger.FromContext(ctx).Debug("usage event recorded",
		"provider", usage.Provider,
		"workflow", usage.Workflow,
		"tokens_total", usage.TokensTotal,
		"cost", usage.Cost,
	)
	return nil
}
