package domain

// FleetStats 舰队快照统计，由 StatsAggregator 按需计算。
type FleetStats struct {
	TotalBots   int     `json:"totalBots"`
	OnlineBots  int     `json:"onlineBots"`
	OfflineBots int     `json:"offlineBots"`
	AvgHealth   float64 `json:"avgHealth"` // 在线机器人的平均生命值，1 位小数
	AvgUptime   float64 `json:"avgUptime"` // 活跃连接的平均在线时长（小时），1 位小数
	ServerPing  int     `json:"serverPing"`
}

// PlaceholderPing 固定占位值：真实延迟测量不在本核心范围内。
const PlaceholderPing = 42
