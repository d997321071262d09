// Package messaging 提供基于 Redis Stream 的任务队列实现
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storyforge-ai-api/pkg/logger"
)

// 通知事件类型。下游（推送网关、前端轮询服务）订阅 stream:notify
// 拿到这些事件后把最新实体状态推给客户端。
const (
	EventEntityUpdated    = "EntityUpdated"
	EventImageGenerated   = "ImageGenerated"
	EventCharacterCreated = "CharacterCreated"
)

// NotifyEvent 通知事件载荷
type NotifyEvent struct {
	Event      string            `json:"event"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	BookID     string            `json:"book_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 领域事件通知器。通知是尽力而为的：发布失败只记日志，
// 不向上传播，生成流程不因通知失败而失败。
type Notifier struct {
	producer *Producer
}

// NewNotifier 创建通知器
func NewNotifier(producer *Producer) *Notifier {
	return &Notifier{producer: producer}
}

// EntityUpdated 实体状态变化通知
func (n *Notifier) EntityUpdated(ctx context.Context, entityType, entityID, bookID string, data map[string]string) {
	n.publish(ctx, &NotifyEvent{
		Event:      EventEntityUpdated,
		EntityType: entityType,
		EntityID:   entityID,
		BookID:     bookID,
		Data:       data,
		OccurredAt: time.Now(),
	})
}

// ImageGenerated 插图终态通知（complete 或 error 都会发）
func (n *Notifier) ImageGenerated(ctx context.Context, imageID, bookID, status string) {
	n.publish(ctx, &NotifyEvent{
		Event:      EventImageGenerated,
		EntityType: "image",
		EntityID:   imageID,
		BookID:     bookID,
		Data:       map[string]string{"status": status},
		OccurredAt: time.Now(),
	})
}

// CharacterCreated 新角色入册通知
func (n *Notifier) CharacterCreated(ctx context.Context, characterID, bookID, name string) {
	n.publish(ctx, &NotifyEvent{
		Event:      EventCharacterCreated,
		EntityType: "character",
		EntityID:   characterID,
		BookID:     bookID,
		Data:       map[string]string{"name": name},
		OccurredAt: time.Now(),
	})
}

func (n *Notifier) publish(ctx context.Context, event *NotifyEvent) {
	msg, err := NewMessage(uuid.NewString(), event.Event, event.BookID, event)
	if err != nil {
		logger.FromContext(ctx).Error("failed to build notify event", "error", err, "event", event.Event)
		return
	}

	if _, err := n.producer.Publish(ctx, StreamNotify, msg); err != nil {
		logger.FromContext(ctx).Error("failed to publish notify event", "error", err, "event", event.Event)
	}
}
