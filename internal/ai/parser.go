package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/store"
	"github.com/craftbot/gofleet/pkg/cache"
	"github.com/craftbot/gofleet/pkg/ratelimit"
)

// ErrNotEligible 解析器自己的准入检查没通过（功能关闭或说话人不是 listen user）。
// 这种情况不算一次解析请求，不计入统计。
var ErrNotEligible = errors.New("ai: message not eligible for parsing")

// ParseResult 解析结果。Action 非空表示指令；否则 Reply 非空表示闲聊回复。
// 返回 (nil, nil) 表示没有匹配到任何东西。
type ParseResult struct {
	Action *domain.ActionRequest
	Reply  string
}

// Parser 外部自然语言解析能力
type Parser interface {
	// ParseCommand 解析一条聊天消息。准入检查由解析器自己负责。
	ParseCommand(ctx context.Context, author, text string) (*ParseResult, error)
	// GenerateAck 为已执行的动作生成一句简短回执
	GenerateAck(ctx context.Context, kind domain.ActionKind, target string) (string, error)
}

const parseSystemPrompt = `You are a Minecraft bot command parser. Parse the user's message and extract bot commands.

Available commands:
- "attack [player]" - Attack a specific player
- "follow [player]" - Follow a specific player
- "stop" - Stop current action
- "teleport" - Teleport to the configured target
- "status" - Get bot status (no action needed, just respond)

If the message contains a valid command, respond with JSON in this format:
{"action": "follow|attack|teleport|stop|antiafk|chat", "target": "player_name_if_applicable", "customCommand": "text_if_chat_response", "shouldRespond": true}

If it's just casual conversation or a status request, respond with:
{"shouldRespond": true, "customCommand": "your_friendly_response"}

If no valid command is found, respond with:
{"shouldRespond": false}`

const ackSystemPrompt = `You are a helpful Minecraft bot assistant. Respond briefly and friendly to commands and interactions.
Keep responses short (1-2 sentences max) and in character as a Minecraft bot.

Examples:
- For attack commands: "Attacking [player] now!"
- For follow commands: "Following [player]!"
- For stop commands: "Stopping all actions."
- For teleport: "Teleporting now!"`

// ErrRateLimited 本地请求预算用完，这一条消息不再调远端
var ErrRateLimited = errors.New("ai: request budget exhausted")

// ackCacheTTL 相同动作的回执短时间内直接复用
const ackCacheTTL = 5 * time.Minute

// OpenAIParser 基于 OpenAI chat completions 的解析实现
type OpenAIParser struct {
	client   *resty.Client
	store    store.Store
	limiter  ratelimit.RateLimiter
	ackCache cache.Cache[string, string]
}

// NewOpenAIParser 创建解析器。baseURL 形如 https://api.openai.com/v1。
func NewOpenAIParser(baseURL, apiKey string, st store.Store) *OpenAIParser {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		SetAuthToken(apiKey)
	return &OpenAIParser{
		client: client,
		store:  st,
		// 每分钟最多 30 次远端调用
		limiter:  ratelimit.NewSlidingWindow(30, time.Minute),
		ackCache: cache.NewInMemoryCache[string, string](ackCacheTTL),
	}
}

type chatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// parsedCommand 模型返回的 JSON 结构
type parsedCommand struct {
	Action        string `json:"action"`
	Target        string `json:"target"`
	CustomCommand string `json:"customCommand"`
	ShouldRespond bool   `json:"shouldRespond"`
}

func (p *OpenAIParser) complete(ctx context.Context, req *chatCompletionRequest) (string, error) {
	if !p.limiter.Allow() {
		return "", ErrRateLimited
	}
	var out chatCompletionResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", pkgerrors.Wrap(err, "call chat completions")
	}
	if resp.IsError() {
		return "", fmt.Errorf("ai: completion failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai: empty completion response")
	}
	return out.Choices[0].Message.Content, nil
}

// ParseCommand 解析一条聊天消息。
// 功能关闭或说话人不匹配 listen user 时返回 ErrNotEligible，不触发远端调用。
func (p *OpenAIParser) ParseCommand(ctx context.Context, author, text string) (*ParseResult, error) {
	cfg, err := p.store.GetAiConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled || author != cfg.ListenUser {
		return nil, ErrNotEligible
	}

	content, err := p.complete(ctx, &chatCompletionRequest{
		Model: cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: parseSystemPrompt},
			{Role: "user", Content: text},
		},
		ResponseFormat:      &responseFormat{Type: "json_object"},
		MaxCompletionTokens: 2048,
	})
	if err != nil {
		return nil, err
	}

	var cmd parsedCommand
	if err := json.Unmarshal([]byte(content), &cmd); err != nil {
		return nil, pkgerrors.Wrap(err, "ai: malformed completion payload")
	}

	if cmd.Action != "" && cmd.Action != "chat" {
		kind, ok := mapActionKind(cmd.Action)
		if !ok {
			return nil, fmt.Errorf("ai: model produced unknown action %q", cmd.Action)
		}
		return &ParseResult{Action: &domain.ActionRequest{Kind: kind, Target: cmd.Target}}, nil
	}
	if cmd.ShouldRespond && cmd.CustomCommand != "" {
		return &ParseResult{Reply: cmd.CustomCommand}, nil
	}
	return nil, nil
}

// GenerateAck 生成动作回执，失败时退回固定话术
func (p *OpenAIParser) GenerateAck(ctx context.Context, kind domain.ActionKind, target string) (string, error) {
	cfg, err := p.store.GetAiConfig(ctx)
	if err != nil {
		return "", err
	}

	cacheKey := fmt.Sprintf("%s|%s", kind, target)
	if cached, ok := p.ackCache.Get(cacheKey); ok {
		return cached, nil
	}

	user := fmt.Sprintf("Command executed: %s.", kind)
	if target != "" {
		user = fmt.Sprintf("Command executed: %s. Context: target is %s", kind, target)
	}
	content, err := p.complete(ctx, &chatCompletionRequest{
		Model: cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: ackSystemPrompt},
			{Role: "user", Content: user},
		},
		MaxCompletionTokens: 100,
	})
	if err != nil {
		return "Command executed!", nil
	}
	ack := strings.TrimSpace(content)
	p.ackCache.Set(cacheKey, ack, 0)
	return ack, nil
}

// mapActionKind 把模型输出映射到封闭动作枚举
func mapActionKind(action string) (domain.ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "follow":
		return domain.ActionFollow, true
	case "attack":
		return domain.ActionAttack, true
	case "teleport", "tp":
		return domain.ActionTeleport, true
	case "stop":
		return domain.ActionStop, true
	case "antiafk", "anti-afk":
		return domain.ActionAntiIdle, true
	default:
		return "", false
	}
}
