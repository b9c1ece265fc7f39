package events

import (
	"time"

	"github.com/craftbot/gofleet/internal/domain"
)

// BotCreatedEvent 机器人档案创建
type BotCreatedEvent struct {
	Bot       *domain.BotRecord
	Timestamp time.Time
}

// BotConnectedEvent 机器人连接成功（spawn 完成）
type BotConnectedEvent struct {
	BotID     string
	Name      string
	Timestamp time.Time
}

// BotDisconnectedEvent 机器人断开（错误、被踢或主动断开）
type BotDisconnectedEvent struct {
	BotID     string
	Name      string
	Reason    string
	Timestamp time.Time
}

// BotDeletedEvent 机器人档案删除
type BotDeletedEvent struct {
	BotID     string
	Name      string
	Timestamp time.Time
}

// LogAddedEvent 新日志条目
type LogAddedEvent struct {
	Entry *domain.LogEntry
}

// ChatMessageEvent 收到一条游戏内聊天
type ChatMessageEvent struct {
	Message *domain.ChatMessage
	BotID   string // 收到这条消息的机器人
}

// ConfigUpdatedEvent 舰队配置被整体替换
type ConfigUpdatedEvent struct {
	Config    *domain.FleetConfig
	Timestamp time.Time
}
