// Package messaging 提供基于 Redis Stream 的任务队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishNarrativeJob 发布叙事生成任务
func (p *Producer) PublishNarrativeJob(ctx context.Context, job *NarrativeJobMessage) (string, error) {
	msgType := TypeUnitGen
	if job.Bootstrap {
		msgType = TypeBookBootstrap
	}

	msg, err := NewMessage(job.JobID, msgType, job.BookID, job)
	if err != nil {
		return "", err
	}

	if job.IdempotencyKey != "" {
		msg.SetMetadata("idempotency_key", job.IdempotencyKey)
	}

	return p.Publish(ctx, StreamNarrativeGen, msg)
}

// PublishImageJob 发布图像生成任务
func (p *Producer) PublishImageJob(ctx context.Context, job *ImageJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, TypeImageGen, job.BookID, job)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("image_id", job.ImageID)
	if job.IdempotencyKey != "" {
		msg.SetMetadata("idempotency_key", job.IdempotencyKey)
	}

	return p.Publish(ctx, StreamImageGen, msg)
}

// PublishUsage 发布用量记录。生成工作流对用量写入是 fire-and-forget 的，
// 这里失败只影响计费账目，不影响生成结果。
func (p *Producer) PublishUsage(ctx context.Context, usage *UsageMessage) (string, error) {
	msg, err := NewMessage(usage.CorrelationID, TypeUsageRecord, "", usage)
	if err != nil {
		return "", err
	}

	return p.Publish(ctx, StreamUsageLog, msg)
}

// NarrativeJobMessage 叙事生成任务消息
type NarrativeJobMessage struct {
	JobID  string `json:"job_id"`
	BookID string `json:"book_id"`
	// UnitID 已有单元的重新生成；为空表示追加新单元
	UnitID string `json:"unit_id,omitempty"`
	// Bootstrap 新书首次生成（标题 + 第一单元 + 角色提取）
	Bootstrap bool `json:"bootstrap,omitempty"`
	// IsFinal 是否为最终单元（提示词不再要求悬念结尾）
	IsFinal        bool   `json:"is_final,omitempty"`
	Guidance       string `json:"guidance,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ImageJobMessage 图像生成任务消息
type ImageJobMessage struct {
	JobID          string `json:"job_id"`
	BookID         string `json:"book_id,omitempty"`
	ImageID        string `json:"image_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// UsageMessage 用量记录消息
type UsageMessage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Workflow         string  `json:"workflow"`
	CorrelationID    string  `json:"correlation_id"`
	TokensPrompt     int     `json:"tokens_prompt"`
	TokensCompletion int     `json:"tokens_completion"`
	TokensTotal      int     `json:"tokens_total"`
	TokensEstimated  bool    `json:"tokens_estimated"`
	Cost             float64 `json:"cost"`
	DurationMs       int64   `json:"duration_ms"`
}
