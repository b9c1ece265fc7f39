package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/craftbot/gofleet/internal/domain"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("store: not found")

// 环形缓冲上限：日志 1000 条，聊天 500 条
const (
	MaxLogEntries   = 1000
	MaxChatMessages = 500
)

// Store 舰队状态的存储接口。
// 实现：MemStore（内存 + 可选 JSON 快照）、SQLStore（sqlite）。
type Store interface {
	CreateBot(ctx context.Context, rec *domain.BotRecord) (*domain.BotRecord, error)
	GetBot(ctx context.Context, id string) (*domain.BotRecord, error)
	GetBotByName(ctx context.Context, name string) (*domain.BotRecord, error)
	ListBots(ctx context.Context) ([]*domain.BotRecord, error)
	UpdateBot(ctx context.Context, id string, upd domain.BotUpdate) (*domain.BotRecord, error)
	DeleteBot(ctx context.Context, id string) error

	GetFleetConfig(ctx context.Context) (*domain.FleetConfig, error)
	SetFleetConfig(ctx context.Context, cfg *domain.FleetConfig) error

	GetAiConfig(ctx context.Context) (*domain.AiConfig, error)
	SetAiConfig(ctx context.Context, cfg *domain.AiConfig) error
	UpdateAiConfig(ctx context.Context, upd domain.AiConfigUpdate) (*domain.AiConfig, error)

	AddLog(ctx context.Context, level domain.LogLevel, message string, botID *string) (*domain.LogEntry, error)
	ListLogs(ctx context.Context, limit int) ([]*domain.LogEntry, error)
	ClearLogs(ctx context.Context) error

	AddChat(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	ListChat(ctx context.Context, limit int) ([]*domain.ChatMessage, error)

	Close() error
}

func newID() string {
	return uuid.NewString()
}

// applyBotUpdate 把部分更新合并进记录（nil 字段跳过）
func applyBotUpdate(rec *domain.BotRecord, upd domain.BotUpdate) {
	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Health != nil {
		rec.Health = upd.Health
	}
	if upd.Position != nil {
		rec.Position = upd.Position
	}
	if upd.CurrentAction != nil {
		rec.CurrentAction = *upd.CurrentAction
	}
	if upd.IsRegistered != nil {
		rec.IsRegistered = *upd.IsRegistered
	}
	if upd.UptimeAnchor != nil {
		rec.UptimeAnchor = upd.UptimeAnchor
	}
}

// applyAiUpdate 把部分更新合并进 AI 配置
func applyAiUpdate(cfg *domain.AiConfig, upd domain.AiConfigUpdate) {
	if upd.Model != nil {
		cfg.Model = *upd.Model
	}
	if upd.ListenUser != nil {
		cfg.ListenUser = *upd.ListenUser
	}
	if upd.Enabled != nil {
		cfg.Enabled = *upd.Enabled
	}
	if upd.AutoResponse != nil {
		cfg.AutoResponse = *upd.AutoResponse
	}
	if upd.TotalRequests != nil {
		cfg.TotalRequests = *upd.TotalRequests
	}
	if upd.CommandsParsed != nil {
		cfg.CommandsParsed = *upd.CommandsParsed
	}
	if upd.AvgResponseTime != nil {
		cfg.AvgResponseTime = *upd.AvgResponseTime
	}
	if upd.SuccessRate != nil {
		cfg.SuccessRate = *upd.SuccessRate
	}
}
