package ai

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/store"
)

var aiLog = logrus.WithField("component", "ai")

// statusFallbackReply 解析器不可用时对 status 询问的兜底回复
const statusFallbackReply = "All bots are running normally!"

// ActionExecutor 动作下发能力（由 fleet.Controller 实现）
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, req *domain.ActionRequest) error
}

// BotLister 机器人列表（由 fleet.Registry 实现）
type BotLister interface {
	List(ctx context.Context) ([]*domain.BotRecord, error)
}

// Pipeline 聊天驱动的指令管道：
// 订阅聊天事件 -> 调外部解析器 -> 指令下发或闲聊回复 -> 更新统计。
// 解析器故障只影响这一条消息，不影响聊天的落库和广播（那是上游的事）。
type Pipeline struct {
	store    store.Store
	parser   Parser
	executor ActionExecutor
	bots     BotLister
}

// NewPipeline 创建管道
func NewPipeline(st store.Store, parser Parser, executor ActionExecutor, bots BotLister) *Pipeline {
	return &Pipeline{store: st, parser: parser, executor: executor, bots: bots}
}

// Bind 订阅聊天事件
func (p *Pipeline) Bind(hub *events.Hub) {
	hub.ChatMessage.Add(func(ctx context.Context, e *events.ChatMessageEvent) {
		p.HandleChat(ctx, e.Message)
	})
}

// HandleChat 处理一条已落库的聊天消息
func (p *Pipeline) HandleChat(ctx context.Context, msg *domain.ChatMessage) {
	if msg.IsBot {
		// 舰队自己机器人发的消息不进解析
		return
	}

	start := time.Now()
	res, err := p.parser.ParseCommand(ctx, msg.Author, msg.Content)
	if errors.Is(err, ErrNotEligible) {
		return
	}
	latencyMs := int(time.Since(start).Milliseconds())

	if err != nil {
		p.recordStats(ctx, false, latencyMs)
		aiLog.Warnf("解析消息失败: %v", err)
		// 兜底：status 询问给一句固定回复
		if strings.Contains(strings.ToLower(msg.Content), "status") {
			p.sendReply(ctx, statusFallbackReply)
		}
		return
	}
	p.recordStats(ctx, true, latencyMs)

	if res == nil {
		return
	}

	if res.Action != nil {
		cfg, err := p.store.GetAiConfig(ctx)
		if err != nil {
			aiLog.Warnf("读取 AI 配置失败: %v", err)
			return
		}
		if _, err := p.store.UpdateAiConfig(ctx, domain.AiConfigUpdate{
			CommandsParsed: domain.IntPtr(cfg.CommandsParsed + 1),
		}); err != nil {
			aiLog.Warnf("更新 commandsParsed 失败: %v", err)
		}

		if err := p.executor.ExecuteAction(ctx, res.Action); err != nil {
			aiLog.Warnf("下发 AI 指令失败: %v", err)
			return
		}
		if cfg.AutoResponse {
			ack, err := p.parser.GenerateAck(ctx, res.Action.Kind, res.Action.Target)
			if err != nil {
				aiLog.Warnf("生成回执失败: %v", err)
				return
			}
			if ack != "" {
				p.sendReply(ctx, ack)
			}
		}
		return
	}

	if res.Reply != "" {
		p.sendReply(ctx, res.Reply)
	}
}

// sendReply 通过任意一个在线机器人把回复发回游戏内。
// 用第一个找到的在线机器人，不保证稳定的优先级。没有在线机器人时丢弃。
func (p *Pipeline) sendReply(ctx context.Context, text string) {
	bots, err := p.bots.List(ctx)
	if err != nil {
		aiLog.Warnf("读取机器人列表失败: %v", err)
		return
	}
	for _, rec := range bots {
		if rec.Status != domain.StatusOnline {
			continue
		}
		err := p.executor.ExecuteAction(ctx, &domain.ActionRequest{
			Kind:    domain.ActionChat,
			Payload: text,
			BotIDs:  []string{rec.ID},
		})
		if err != nil {
			aiLog.Warnf("发送 AI 回复失败: %v", err)
		}
		return
	}
	aiLog.Debugf("没有在线机器人，丢弃 AI 回复: %q", text)
}

// recordStats 每次解析器调用（无论成败）后更新统计。
// 成功率从上一次的百分比反推出隐含成功次数再重新归一。
func (p *Pipeline) recordStats(ctx context.Context, success bool, latencyMs int) {
	cfg, err := p.store.GetAiConfig(ctx)
	if err != nil {
		aiLog.Warnf("读取 AI 配置失败: %v", err)
		return
	}

	oldTotal := cfg.TotalRequests
	newTotal := oldTotal + 1
	newAvg := int(math.Round(
		(float64(cfg.AvgResponseTime)*float64(oldTotal) + float64(latencyMs)) / float64(newTotal)))

	successful := int(math.Round(float64(cfg.SuccessRate) / 100 * float64(oldTotal)))
	if success {
		successful++
	}
	newRate := int(math.Round(float64(successful) / float64(newTotal) * 100))

	if _, err := p.store.UpdateAiConfig(ctx, domain.AiConfigUpdate{
		TotalRequests:   domain.IntPtr(newTotal),
		AvgResponseTime: domain.IntPtr(newAvg),
		SuccessRate:     domain.IntPtr(newRate),
	}); err != nil {
		aiLog.Warnf("更新 AI 统计失败: %v", err)
	}
}
