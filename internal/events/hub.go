package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "events")

// HandlerList 单一事件类型的处理器列表。
// Emit 串行执行（确定性优先），单个处理器 panic 不影响其余处理器。
type HandlerList[E any] struct {
	mu       sync.RWMutex
	handlers []func(ctx context.Context, e *E)
}

// Add 注册处理器
func (h *HandlerList[E]) Add(fn func(ctx context.Context, e *E)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

// snapshot 返回处理器快照（无锁遍历，避免长时间持锁）
func (h *HandlerList[E]) snapshot() []func(ctx context.Context, e *E) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]func(ctx context.Context, e *E), len(h.handlers))
	copy(out, h.handlers)
	return out
}

// Emit 触发所有处理器
func (h *HandlerList[E]) Emit(ctx context.Context, e *E) {
	for i, fn := range h.snapshot() {
		func(idx int, fn func(ctx context.Context, e *E)) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("事件处理器 %d panic: %v", idx, r)
				}
			}()
			fn(ctx, e)
		}(i, fn)
	}
}

// Count 返回处理器数量
func (h *HandlerList[E]) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Hub 封闭事件集的观察者注册点。
// 投递语义：push-only、至多一次；不提供背压。
type Hub struct {
	BotCreated      HandlerList[BotCreatedEvent]
	BotConnected    HandlerList[BotConnectedEvent]
	BotDisconnected HandlerList[BotDisconnectedEvent]
	BotDeleted      HandlerList[BotDeletedEvent]
	LogAdded        HandlerList[LogAddedEvent]
	ChatMessage     HandlerList[ChatMessageEvent]
	ConfigUpdated   HandlerList[ConfigUpdatedEvent]
}

// NewHub 创建事件中心
func NewHub() *Hub {
	return &Hub{}
}
