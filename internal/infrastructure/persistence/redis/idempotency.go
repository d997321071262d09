// Package redis 提供 Redis 幂等守卫实现
package redis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var idemTracer = otel.Tracer("redis.idempotency")

// IdempotencyGuard 任务幂等守卫。
// 投递语义是 at-least-once，同一条任务可能被重复派发；
// 守卫用 SETNX 认领任务，重复投递在这里短路成 no-op。
// 失败的尝试会 Release，以便重试能重新认领。
type IdempotencyGuard struct {
	client *Client
	ttl    time.Duration
}

// NewIdempotencyGuard 创建幂等守卫
func NewIdempotencyGuard(client *Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// Acquire 认领任务。返回 false 表示该任务已被处理或正在处理。
func (g *IdempotencyGuard) Acquire(ctx context.Context, stream, jobID string) (bool, error) {
	ctx, span := idemTracer.Start(ctx, "idempotency.Acquire",
		trace.WithAttributes(
			attribute.String("idempotency.stream", stream),
			attribute.String("idempotency.job_id", jobID),
		))
	defer span.End()

	ok, err := g.client.rdb.SetNX(ctx, buildIdempotencyKey(stream, jobID), "1", g.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	span.SetAttributes(attribute.Bool("idempotency.acquired", ok))
	return ok, nil
}

// Release 释放认领（任务失败后调用，让下一次投递可以重试）
func (g *IdempotencyGuard) Release(ctx context.Context, stream, jobID string) error {
	ctx, span := idemTracer.Start(ctx, "idempotency.Release",
		trace.WithAttributes(
			attribute.String("idempotency.stream", stream),
			attribute.String("idempotency.job_id", jobID),
		))
	defer span.End()

	if err := g.client.rdb.Del(ctx, buildIdempotencyKey(stream, jobID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func buildIdempotencyKey(stream, jobID string) string {
	return fmt.Sprintf("idem:%s:%s", stream, jobID)
}
