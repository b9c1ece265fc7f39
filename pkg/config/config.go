package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/pkg/logger"
)

// ServerConfig 管理端 HTTP 服务配置
type ServerConfig struct {
	ListenAddr string // 监听地址，例如 ":8080"
}

// GameConfig 游戏服务器连接配置（车队初始配置）
type GameConfig struct {
	GatewayURL      string // 协议网关的 ws 地址
	Host            string
	Port            int
	Password        string // 可以为空，优先从 secretstore 读取
	FollowTarget    string
	AutoReconnect   bool
	ReconnectDelay  int // 秒
	AutoRegister    bool
	AutoLogin       bool
	ProtocolVersion string
}

// AiConfig AI 命令解析配置
type AiConfig struct {
	Model        string
	BaseURL      string
	ListenUser   string
	Enabled      bool
	AutoResponse bool
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver  string // mem 或 sqlite
	DSN     string // sqlite 文件路径
	DataDir string // JSON 快照目录（mem 驱动可选）
}

// SecretsConfig 密钥存储配置
type SecretsConfig struct {
	Path string // badger 数据目录，为空则禁用
}

// Config 应用配置
type Config struct {
	Server  ServerConfig
	Game    GameConfig
	Ai      AiConfig
	Store   StoreConfig
	Secrets SecretsConfig

	LogLevel string
	LogFile  string
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	} `yaml:"server" json:"server"`
	Game struct {
		GatewayURL      string `yaml:"gateway_url" json:"gateway_url"`
		Host            string `yaml:"host" json:"host"`
		Port            int    `yaml:"port" json:"port"`
		Password        string `yaml:"password" json:"password"`
		FollowTarget    string `yaml:"follow_target" json:"follow_target"`
		AutoReconnect   *bool  `yaml:"auto_reconnect" json:"auto_reconnect"`
		ReconnectDelay  int    `yaml:"reconnect_delay" json:"reconnect_delay"`
		AutoRegister    *bool  `yaml:"auto_register" json:"auto_register"`
		AutoLogin       *bool  `yaml:"auto_login" json:"auto_login"`
		ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`
	} `yaml:"game" json:"game"`
	Ai struct {
		Model        string `yaml:"model" json:"model"`
		BaseURL      string `yaml:"base_url" json:"base_url"`
		ListenUser   string `yaml:"listen_user" json:"listen_user"`
		Enabled      *bool  `yaml:"enabled" json:"enabled"`
		AutoResponse *bool  `yaml:"auto_response" json:"auto_response"`
	} `yaml:"ai" json:"ai"`
	Store struct {
		Driver  string `yaml:"driver" json:"driver"`
		DSN     string `yaml:"dsn" json:"dsn"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
	} `yaml:"store" json:"store"`
	Secrets struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"secrets" json:"secrets"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// LoadFromFile 从指定文件加载配置（文件可以不存在，此时全部使用环境变量和默认值）
// 优先级：配置文件 > 环境变量 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	var cf *ConfigFile
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
			}
			cf = nil
		}
	}

	config := &Config{
		Server: ServerConfig{
			ListenAddr: pickString(cf != nil && cf.Server.ListenAddr != "", safeString(cf, func(c *ConfigFile) string { return c.Server.ListenAddr }), getEnv("LISTEN_ADDR", ":8080")),
		},
		Game: GameConfig{
			GatewayURL:      pickString(cf != nil && cf.Game.GatewayURL != "", safeString(cf, func(c *ConfigFile) string { return c.Game.GatewayURL }), getEnv("GAME_GATEWAY_URL", "ws://127.0.0.1:8091/session")),
			Host:            pickString(cf != nil && cf.Game.Host != "", safeString(cf, func(c *ConfigFile) string { return c.Game.Host }), getEnv("GAME_HOST", "localhost")),
			Port:            pickInt(cf != nil && cf.Game.Port > 0, safeInt(cf, func(c *ConfigFile) int { return c.Game.Port }), parseIntEnv("GAME_PORT", 25565)),
			Password:        pickString(cf != nil && cf.Game.Password != "", safeString(cf, func(c *ConfigFile) string { return c.Game.Password }), getEnv("GAME_PASSWORD", "")),
			FollowTarget:    pickString(cf != nil && cf.Game.FollowTarget != "", safeString(cf, func(c *ConfigFile) string { return c.Game.FollowTarget }), getEnv("GAME_FOLLOW_TARGET", "")),
			AutoReconnect:   pickBool(cf, func(c *ConfigFile) *bool { return c.Game.AutoReconnect }, parseBoolEnv("GAME_AUTO_RECONNECT", true)),
			ReconnectDelay:  pickInt(cf != nil && cf.Game.ReconnectDelay > 0, safeInt(cf, func(c *ConfigFile) int { return c.Game.ReconnectDelay }), parseIntEnv("GAME_RECONNECT_DELAY", 30)),
			AutoRegister:    pickBool(cf, func(c *ConfigFile) *bool { return c.Game.AutoRegister }, parseBoolEnv("GAME_AUTO_REGISTER", true)),
			AutoLogin:       pickBool(cf, func(c *ConfigFile) *bool { return c.Game.AutoLogin }, parseBoolEnv("GAME_AUTO_LOGIN", true)),
			ProtocolVersion: pickString(cf != nil && cf.Game.ProtocolVersion != "", safeString(cf, func(c *ConfigFile) string { return c.Game.ProtocolVersion }), getEnv("GAME_PROTOCOL_VERSION", "1.21.4")),
		},
		Ai: AiConfig{
			Model:        pickString(cf != nil && cf.Ai.Model != "", safeString(cf, func(c *ConfigFile) string { return c.Ai.Model }), getEnv("AI_MODEL", "gpt-5")),
			BaseURL:      pickString(cf != nil && cf.Ai.BaseURL != "", safeString(cf, func(c *ConfigFile) string { return c.Ai.BaseURL }), getEnv("AI_BASE_URL", "https://api.openai.com/v1")),
			ListenUser:   pickString(cf != nil && cf.Ai.ListenUser != "", safeString(cf, func(c *ConfigFile) string { return c.Ai.ListenUser }), getEnv("AI_LISTEN_USER", "")),
			Enabled:      pickBool(cf, func(c *ConfigFile) *bool { return c.Ai.Enabled }, parseBoolEnv("AI_ENABLED", true)),
			AutoResponse: pickBool(cf, func(c *ConfigFile) *bool { return c.Ai.AutoResponse }, parseBoolEnv("AI_AUTO_RESPONSE", true)),
		},
		Store: StoreConfig{
			Driver:  pickString(cf != nil && cf.Store.Driver != "", safeString(cf, func(c *ConfigFile) string { return c.Store.Driver }), getEnv("STORE_DRIVER", "mem")),
			DSN:     pickString(cf != nil && cf.Store.DSN != "", safeString(cf, func(c *ConfigFile) string { return c.Store.DSN }), getEnv("STORE_DSN", "data/fleet.db")),
			DataDir: pickString(cf != nil && cf.Store.DataDir != "", safeString(cf, func(c *ConfigFile) string { return c.Store.DataDir }), getEnv("STORE_DATA_DIR", "")),
		},
		Secrets: SecretsConfig{
			Path: pickString(cf != nil && cf.Secrets.Path != "", safeString(cf, func(c *ConfigFile) string { return c.Secrets.Path }), getEnv("SECRETS_PATH", "")),
		},
		LogLevel: pickString(cf != nil && cf.LogLevel != "", safeString(cf, func(c *ConfigFile) string { return c.LogLevel }), getEnv("LOG_LEVEL", "info")),
		LogFile:  pickString(cf != nil && cf.LogFile != "", safeString(cf, func(c *ConfigFile) string { return c.LogFile }), getEnv("LOG_FILE", "logs/fleet.log")),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return config, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR 不能为空")
	}
	if c.Game.GatewayURL == "" {
		return fmt.Errorf("GAME_GATEWAY_URL 不能为空")
	}
	if c.Game.Host == "" {
		return fmt.Errorf("GAME_HOST 不能为空")
	}
	if c.Game.Port <= 0 || c.Game.Port > 65535 {
		return fmt.Errorf("GAME_PORT 必须在 1 到 65535 之间")
	}
	if c.Game.ReconnectDelay < 0 {
		return fmt.Errorf("GAME_RECONNECT_DELAY 不能为负数")
	}
	switch c.Store.Driver {
	case "mem", "sqlite":
	default:
		return fmt.Errorf("未知的存储驱动: %s (支持 mem, sqlite)", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("STORE_DSN 不能为空")
	}
	return nil
}

// FleetConfig 转换为车队运行时配置
func (c *Config) FleetConfig() *domain.FleetConfig {
	fc := domain.DefaultFleetConfig()
	fc.Host = c.Game.Host
	fc.Port = c.Game.Port
	fc.Password = c.Game.Password
	fc.FollowTarget = c.Game.FollowTarget
	fc.AutoReconnect = c.Game.AutoReconnect
	fc.ReconnectDelay = c.Game.ReconnectDelay
	fc.AutoRegister = c.Game.AutoRegister
	fc.AutoLogin = c.Game.AutoLogin
	fc.ProtocolVersion = c.Game.ProtocolVersion
	return fc
}

// AiRuntimeConfig 转换为 AI 运行时配置
func (c *Config) AiRuntimeConfig() *domain.AiConfig {
	ac := domain.DefaultAiConfig()
	ac.Model = c.Ai.Model
	ac.ListenUser = c.Ai.ListenUser
	ac.Enabled = c.Ai.Enabled
	ac.AutoResponse = c.Ai.AutoResponse
	return ac
}

// LoggerConfig 转换为日志配置
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.LogLevel,
		OutputFile: c.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cf ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &cf, nil
}

// pickString 从多个源获取字符串值（优先级：配置文件 > 环境变量/默认值）
func pickString(hasConfigValue bool, configValue, fallback string) string {
	if hasConfigValue {
		return configValue
	}
	return fallback
}

// pickInt 从多个源获取整数值
func pickInt(hasConfigValue bool, configValue, fallback int) int {
	if hasConfigValue {
		return configValue
	}
	return fallback
}

// pickBool 布尔值使用指针区分"未设置"和"显式 false"
func pickBool(cf *ConfigFile, getter func(*ConfigFile) *bool, fallback bool) bool {
	if cf != nil {
		if v := getter(cf); v != nil {
			return *v
		}
	}
	return fallback
}

func safeString(cf *ConfigFile, getter func(*ConfigFile) string) string {
	if cf == nil {
		return ""
	}
	return getter(cf)
}

func safeInt(cf *ConfigFile, getter func(*ConfigFile) int) int {
	if cf == nil {
		return 0
	}
	return getter(cf)
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
