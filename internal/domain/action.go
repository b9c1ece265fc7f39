package domain

import (
	"errors"
	"fmt"
)

// ActionKind 可下发的行为类型（封闭枚举）
type ActionKind string

const (
	ActionFollow   ActionKind = "follow"
	ActionAttack   ActionKind = "attack"
	ActionTeleport ActionKind = "teleport"
	ActionStop     ActionKind = "stop"
	ActionAntiIdle ActionKind = "antiafk"
	ActionCommand  ActionKind = "command" // 原样发给服务器的指令
	ActionChat     ActionKind = "chat"    // 普通聊天文本
)

// ErrValidation 请求未通过边界校验
var ErrValidation = errors.New("invalid action request")

// ActionRequest 行为请求。BotIDs 为空表示作用于全部机器人。
type ActionRequest struct {
	Kind    ActionKind `json:"action"`
	Target  string     `json:"target,omitempty"`
	BotIDs  []string   `json:"botIds,omitempty"`
	Payload string     `json:"payload,omitempty"` // command/chat 的文本内容
}

// Validate 在进入 dispatcher 之前做必填字段校验。
// 校验失败时不允许触碰任何机器人。
func (a *ActionRequest) Validate() error {
	switch a.Kind {
	case ActionFollow, ActionTeleport, ActionStop, ActionAntiIdle:
		// target 可选（follow/teleport 缺省用配置里的 follow target）
	case ActionAttack:
		if a.Target == "" {
			return fmt.Errorf("%w: attack requires a target", ErrValidation)
		}
	case ActionCommand:
		if a.Payload == "" {
			return fmt.Errorf("%w: command requires a payload", ErrValidation)
		}
	case ActionChat:
		if a.Payload == "" {
			return fmt.Errorf("%w: chat requires a payload", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrValidation, a.Kind)
	}
	return nil
}
