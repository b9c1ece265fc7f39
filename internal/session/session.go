package session

import (
	"context"

	"github.com/craftbot/gofleet/internal/domain"
)

// EntityRef 世界里的一个玩家实体引用
type EntityRef struct {
	EntityID int    `json:"entityId"`
	Name     string `json:"name"`
}

// SpawnState 出生时网关推送的初始状态
type SpawnState struct {
	Health   int              `json:"health"`
	Position *domain.Position `json:"position,omitempty"`
}

// Options 建立一条游戏会话所需的参数
type Options struct {
	GatewayURL      string // 协议网关的 ws 地址
	Host            string // 游戏服务器地址
	Port            int
	Username        string
	ProtocolVersion string
}

// Events 会话事件回调。nil 字段会被跳过。
// OnEnd 是终结事件，每条会话至多触发一次；触发后会话不可再用。
// 会话自身不做重连，重连策略由上层控制器决定。
type Events struct {
	OnSpawned      func(state SpawnState)
	OnHealth       func(health int)
	OnMoved        func(pos domain.Position)
	OnChat         func(author, content string)
	OnPlayerJoined func(player EntityRef)
	OnPlayerLeft   func(name string)
	OnKicked       func(reason string)
	OnEnd          func(reason string)
}

// Session 一条已建立的游戏会话
type Session interface {
	// Chat 发送聊天文本（以 / 开头时由服务器当作指令处理）
	Chat(text string) error
	// Attack 攻击指定名字的玩家（目标必须在实体缓存里）
	Attack(target string) error
	// Pursue 跟随目标玩家，保持 distance 距离
	Pursue(target string, distance float64) error
	// ClearPursue 停止跟随
	ClearPursue() error
	// SetControl 按下/松开一个移动控制键（jump、forward 等）
	SetControl(name string, state bool) error
	// ClearControls 松开全部控制键
	ClearControls() error
	// FindPlayer 在实体缓存里查找玩家
	FindPlayer(name string) (EntityRef, bool)
	// Close 主动断开
	Close() error
}

// Opener 会话工厂。生产实现是 GatewayOpener，测试里用 fake。
type Opener interface {
	Open(ctx context.Context, opts Options, ev Events) (Session, error)
}
