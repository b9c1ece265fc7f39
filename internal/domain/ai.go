package domain

import "time"

// AiConfig AI 指令解析配置 + 运行统计。
// 统计字段只由 AiCommandPipeline 修改。
type AiConfig struct {
	Model        string `json:"model"`
	ListenUser   string `json:"listenUser"` // 被当作指令来源的聊天作者
	Enabled      bool   `json:"enabled"`
	AutoResponse bool   `json:"autoResponse"`

	TotalRequests   int `json:"totalRequests"`
	CommandsParsed  int `json:"commandsParsed"`
	AvgResponseTime int `json:"avgResponseTime"` // 毫秒（滑动平均）
	SuccessRate     int `json:"successRate"`     // 百分比

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultAiConfig 缺省 AI 配置
func DefaultAiConfig() *AiConfig {
	return &AiConfig{
		Model:        "gpt-5",
		Enabled:      true,
		AutoResponse: true,
		SuccessRate:  100,
		UpdatedAt:    time.Now(),
	}
}

// AiConfigUpdate 部分字段更新（nil 表示不修改）
type AiConfigUpdate struct {
	Model        *string
	ListenUser   *string
	Enabled      *bool
	AutoResponse *bool

	TotalRequests   *int
	CommandsParsed  *int
	AvgResponseTime *int
	SuccessRate     *int
}
