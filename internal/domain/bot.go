package domain

import "time"

// BotStatus 机器人连接状态
type BotStatus string

const (
	StatusOffline    BotStatus = "offline"
	StatusConnecting BotStatus = "connecting"
	StatusOnline     BotStatus = "online"
)

// Position 世界坐标（整数方块坐标）
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// BotRecord 机器人档案（注册表持有的持久化记录）
// 运行时的连接句柄（session、定时器）不在这里，见 fleet.Controller。
type BotRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        BotStatus  `json:"status"`
	Health        *int       `json:"health,omitempty"` // 0-20，离线时可能缺失
	Position      *Position  `json:"position,omitempty"`
	CurrentAction string     `json:"currentAction"`
	IsRegistered  bool       `json:"isRegistered"`
	UptimeAnchor  *time.Time `json:"uptimeAnchor,omitempty"` // 最近一次连接成功的时间
	LastSeen      time.Time  `json:"lastSeen"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// BotUpdate 部分字段更新（nil 表示不修改）
type BotUpdate struct {
	Name          *string
	Status        *BotStatus
	Health        *int
	Position      *Position
	CurrentAction *string
	IsRegistered  *bool
	UptimeAnchor  *time.Time
}

func StringPtr(s string) *string       { return &s }
func IntPtr(v int) *int                { return &v }
func StatusPtr(s BotStatus) *BotStatus { return &s }
func BoolPtr(b bool) *bool             { return &b }
