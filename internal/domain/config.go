package domain

import "time"

// FleetConfig 全舰队共享的服务器连接配置。
// 整体替换（Controller.UpdateConfig），不允许就地修改单个字段。
type FleetConfig struct {
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	Password        string    `json:"password"`
	FollowTarget    string    `json:"followTarget"`
	AutoReconnect   bool      `json:"autoReconnect"`
	ReconnectDelay  int       `json:"reconnectDelay"` // 秒
	AutoRegister    bool      `json:"autoRegister"`
	AutoLogin       bool      `json:"autoLogin"`
	ProtocolVersion string    `json:"protocolVersion"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DefaultFleetConfig 缺省配置
func DefaultFleetConfig() *FleetConfig {
	return &FleetConfig{
		Host:            "localhost",
		Port:            25565,
		FollowTarget:    "",
		AutoReconnect:   true,
		ReconnectDelay:  30,
		ProtocolVersion: "1.21.4",
		UpdatedAt:       time.Now(),
	}
}
