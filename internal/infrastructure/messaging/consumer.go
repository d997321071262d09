// Package messaging 提供基于 Redis Stream 的任务队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/pkg/logger"
	"storyforge-ai-api/pkg/metrics"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, msg *Message) error

// FailureHandler 任务耗尽重试次数后的回调。每条消息只触发一次，
// 在消息进入死信队列之前执行，用于把 owner 实体置为失败态。
type FailureHandler func(ctx context.Context, msg *Message, err error)

// streamClient 消费者用到的 Redis Stream 命令子集，*redis.Client 满足
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
	XInfoStream(ctx context.Context, key string) *redis.XInfoStreamCmd
}

// Consumer 消息消费者。投递语义为 at-least-once：处理成功才 ACK，
// 失败的消息留在 pending 列表里按退避重试，超过重试上限移入死信队列。
type Consumer struct {
	client         streamClient
	stream         Stream
	group          ConsumerGroup
	consumerName   string
	blockTimeout   time.Duration
	claimInterval  time.Duration
	reclaimIdle    time.Duration
	retryLimit     int
	backoff        BackoffConfig
	attemptTimeout time.Duration

	handlers  map[string]MessageHandler
	onFailure FailureHandler
	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
	// AttemptTimeout 单次处理超时。超时的尝试按失败处理，
	// 消息留在 pending 列表等待重试。
	AttemptTimeout time.Duration
}

// NewConsumer 创建消息消费者
func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	return newConsumerWith(client, cfg)
}

func newConsumerWith(client streamClient, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 3 * time.Minute
	}

	reclaimIdle := maxDuration(5*time.Minute, cfg.Backoff.Max*2)
	if cfg.AttemptTimeout*2 > reclaimIdle {
		reclaimIdle = cfg.AttemptTimeout * 2
	}

	return &Consumer{
		client:         client,
		stream:         cfg.Stream,
		group:          cfg.Group,
		consumerName:   cfg.ConsumerName,
		blockTimeout:   cfg.BlockTimeout,
		claimInterval:  cfg.ClaimInterval,
		reclaimIdle:    reclaimIdle,
		retryLimit:     cfg.RetryLimit,
		backoff:        cfg.Backoff,
		attemptTimeout: cfg.AttemptTimeout,
		handlers:       make(map[string]MessageHandler),
		stopCh:         make(chan struct{}),
	}
}

// RegisterHandler 注册消息处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// OnFailure 注册失败回调
func (c *Consumer) OnFailure(handler FailureHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = handler
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	// 确保消费者组存在
	err := c.client.XGroupCreateMkStream(ctx, string(c.stream), string(c.group), "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go c.run(ctx)
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

// run 消费循环
func (c *Consumer) run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info("consumer started",
		"stream", c.stream,
		"group", c.group,
		"consumer", c.consumerName,
	)

	lastClaim := time.Now().Add(-c.claimInterval)

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped due to context cancellation")
			return
		case <-c.stopCh:
			log.Info("consumer stopped")
			return
		default:
		}

		c.processDuePending(ctx)
		if time.Since(lastClaim) >= c.claimInterval {
			c.reclaimStale(ctx)
			lastClaim = time.Now()
		}

		// 读取消息
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.group),
			Consumer: c.consumerName,
			Streams:  []string{string(c.stream), ">"},
			Count:    10,
			Block:    c.blockTimeout,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			log.Error("failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				c.processMessage(ctx, xmsg)
			}
		}
	}
}

// processMessage 处理单条消息
func (c *Consumer) processMessage(ctx context.Context, xmsg redis.XMessage) {
	ctx, span := tracer.Start(ctx, "consumer.processMessage",
		trace.WithAttributes(
			attribute.String("stream", string(c.stream)),
			attribute.String("stream.message_id", xmsg.ID),
		))
	defer span.End()

	// 解析消息
	var msg Message
	dataStr, ok := xmsg.Values["data"].(string)
	if !ok {
		logger.FromContext(ctx).Error("invalid message format", "message_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := json.Unmarshal([]byte(dataStr), &msg); err != nil {
		logger.FromContext(ctx).Error("failed to unmarshal message", "error", err, "message_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		return
	}

	// 注入日志上下文
	ctx = logger.WithContext(ctx, logger.JobIDKey, msg.ID)
	if msg.BookID != "" {
		ctx = logger.WithContext(ctx, logger.BookIDKey, msg.BookID)
	}
	if traceID := msg.GetMetadata("trace_id"); traceID != "" {
		ctx = logger.WithContext(ctx, logger.TraceIDKey, traceID)
	}

	log := logger.FromContext(ctx)

	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
		attribute.String("book_id", msg.BookID),
	)

	// 查找处理器
	c.mu.RLock()
	handler, exists := c.handlers[msg.Type]
	c.mu.RUnlock()

	if !exists {
		log.Warn("no handler for message type", "type", msg.Type)
		c.ack(ctx, xmsg.ID)
		return
	}

	// 执行处理器，单次尝试带超时
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	err := handler(attemptCtx, &msg)
	cancel()

	if err != nil {
		span.RecordError(err)
		log.Error("handler failed", "error", err, "message_id", msg.ID)
		c.handleFailure(ctx, xmsg, &msg, err)
		return
	}

	c.ack(ctx, xmsg.ID)
}

// ack 确认消息
func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.stream), string(c.group), id).Err(); err != nil {
		logger.FromContext(ctx).Error("failed to ack message", "error", err, "message_id", id)
	}
}

// handleFailure 处理失败
func (c *Consumer) handleFailure(ctx context.Context, xmsg redis.XMessage, msg *Message, err error) {
	log := logger.FromContext(ctx)

	// 获取重试次数
	retryCount := c.getRetryCount(ctx, xmsg.ID)

	if retryCount >= c.retryLimit {
		// 通知失败回调后移入死信队列
		log.Warn("message moved to DLQ after max retries",
			"message_id", msg.ID,
			"retry_count", retryCount,
		)
		c.notifyFailure(ctx, msg, err)
		c.moveToDLQ(ctx, msg, err)
		c.ack(ctx, xmsg.ID)
		return
	}

	metrics.JobRetriesTotal.WithLabelValues(string(c.stream)).Inc()
	log.Info("message left pending for retry",
		"message_id", msg.ID,
		"retry_count", retryCount,
	)
}

// notifyFailure 触发失败回调。回调自身的 panic 不能拖垮消费循环。
func (c *Consumer) notifyFailure(ctx context.Context, msg *Message, err error) {
	c.mu.RLock()
	handler := c.onFailure
	c.mu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("failure handler panicked", "panic", r, "message_id", msg.ID)
		}
	}()
	handler(ctx, msg, err)
}

// getRetryCount 获取重试次数
func (c *Consumer) getRetryCount(ctx context.Context, messageID string) int {
	// 通过 XPENDING 获取消息的投递次数
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()

	if err != nil || len(pending) == 0 {
		return 0
	}

	return int(pending[0].RetryCount)
}

// moveToDLQ 移入死信队列
func (c *Consumer) moveToDLQ(ctx context.Context, msg *Message, err error) {
	dlqStream := c.stream.DLQStream()

	dlqMsg := map[string]interface{}{
		"original_stream": string(c.stream),
		"data":            msg,
		"error":           err.Error(),
		"failed_at":       time.Now().Unix(),
	}

	data, _ := json.Marshal(dlqMsg)
	c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]interface{}{"data": string(data)},
	})

	metrics.JobDLQTotal.WithLabelValues(string(c.stream)).Inc()
}

func (c *Consumer) processDuePending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(c.stream),
		Group:    string(c.group),
		Start:    "-",
		End:      "+",
		Count:    20,
		Consumer: c.consumerName,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return
		}
		logger.FromContext(ctx).Error("failed to query pending messages", "error", err)
		return
	}

	for i := range pending {
		p := pending[i]
		retryCount := int(p.RetryCount)
		if retryCount >= c.retryLimit {
			claimed, claimErr := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   string(c.stream),
				Group:    string(c.group),
				Consumer: c.consumerName,
				MinIdle:  0,
				Messages: []string{p.ID},
			}).Result()
			if claimErr != nil {
				logger.FromContext(ctx).Error("failed to claim pending message for DLQ", "error", claimErr, "message_id", p.ID)
				continue
			}

			for _, xmsg := range claimed {
				c.exhaust(ctx, xmsg)
			}
			continue
		}

		backoff := c.backoff.CalculateBackoff(retryCount)
		if p.Idle < backoff {
			continue
		}

		claimed, claimErr := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.stream),
			Group:    string(c.group),
			Consumer: c.consumerName,
			MinIdle:  backoff,
			Messages: []string{p.ID},
		}).Result()
		if claimErr != nil {
			logger.FromContext(ctx).Error("failed to claim pending message", "error", claimErr, "message_id", p.ID)
			continue
		}

		for _, xmsg := range claimed {
			c.processMessage(ctx, xmsg)
		}
	}
}

// exhaust 将超限消息移入死信队列并 ACK
func (c *Consumer) exhaust(ctx context.Context, xmsg redis.XMessage) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		c.ack(ctx, xmsg.ID)
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.ack(ctx, xmsg.ID)
		return
	}

	err := fmt.Errorf("message exceeded max retries")
	c.notifyFailure(ctx, &msg, err)
	c.moveToDLQ(ctx, &msg, err)
	c.ack(ctx, xmsg.ID)
}

func (c *Consumer) reclaimStale(ctx context.Context) {
	if c.reclaimIdle <= 0 {
		return
	}

	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  "-",
		End:    "+",
		Count:  20,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return
		}
		logger.FromContext(ctx).Error("failed to query pending messages for reclaim", "error", err)
		return
	}

	for i := range pending {
		p := pending[i]
		if p.Consumer == c.consumerName {
			continue
		}
		if p.Idle < c.reclaimIdle {
			continue
		}

		claimed, claimErr := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   string(c.stream),
			Group:    string(c.group),
			Consumer: c.consumerName,
			MinIdle:  c.reclaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if claimErr != nil {
			logger.FromContext(ctx).Error("failed to reclaim pending message", "error", claimErr, "message_id", p.ID)
			continue
		}

		for _, xmsg := range claimed {
			if int(p.RetryCount) >= c.retryLimit {
				c.exhaust(ctx, xmsg)
			} else {
				c.processMessage(ctx, xmsg)
			}
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// MonitorDLQ 监控死信队列
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			dlqStream := c.stream.DLQStream()
			info, err := c.client.XInfoStream(ctx, dlqStream).Result()
			if err != nil {
				continue
			}

			if info.Length > alertThreshold {
				log.Warn("DLQ has pending messages",
					"stream", dlqStream,
					"count", info.Length,
				)
			}
		}
	}
}
