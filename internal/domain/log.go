package domain

import "time"

// LogLevel 日志条目级别
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry 面向操作者的事件日志（append-only，外部存储保留最近 N 条）
type LogEntry struct {
	ID        string    `json:"id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	BotID     *string   `json:"botId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage 游戏内聊天记录
type ChatMessage struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"isBot"` // 由舰队里的机器人发出
	BotID     *string   `json:"botId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
