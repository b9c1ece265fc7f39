package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/craftbot/gofleet/internal/ai"
	"github.com/craftbot/gofleet/internal/controlplane/server"
	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/fleet"
	"github.com/craftbot/gofleet/internal/session"
	"github.com/craftbot/gofleet/internal/store"
	"github.com/craftbot/gofleet/pkg/config"
	"github.com/craftbot/gofleet/pkg/logger"
	"github.com/craftbot/gofleet/pkg/persistence"
	"github.com/craftbot/gofleet/pkg/secretstore"
	"github.com/craftbot/gofleet/pkg/shutdown"
)

func main() {
	// 允许用 .env 提供环境变量，缺失时走真实环境
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "配置文件路径 (.yaml/.json)，可为空")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		_ = logger.InitDefault()
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		_ = logger.InitDefault()
		logger.Warnf("初始化日志失败，使用默认配置: %v", err)
	}

	mgr := shutdown.NewManager()

	// 密钥存储（可选）。服务器密码和 AI key 优先从这里取，取不到退回环境变量。
	password := cfg.Game.Password
	apiKey := os.Getenv("OPENAI_API_KEY")
	if cfg.Secrets.Path != "" {
		encKey, err := secretstore.ParseKey(os.Getenv("SECRETS_ENCRYPTION_KEY"))
		if err != nil {
			logger.Errorf("解析 SECRETS_ENCRYPTION_KEY 失败: %v", err)
			os.Exit(1)
		}
		secrets, err := secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.Secrets.Path,
			EncryptionKey: encKey,
		})
		if err != nil {
			logger.Errorf("打开密钥存储失败: %v", err)
			os.Exit(1)
		}
		mgr.OnShutdown(func(context.Context) { _ = secrets.Close() })

		if v, found, err := secrets.GetString(secretstore.KeyServerPassword); err != nil {
			logger.Warnf("读取服务器密码失败: %v", err)
		} else if found {
			password = v
		}
		if v, found, err := secrets.GetString(secretstore.KeyAiAPIKey); err != nil {
			logger.Warnf("读取 AI key 失败: %v", err)
		} else if found {
			apiKey = v
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Errorf("初始化存储失败: %v", err)
		os.Exit(1)
	}
	mgr.OnShutdown(func(context.Context) { _ = st.Close() })

	ctx := context.Background()

	// 启动时用环境配置覆盖车队配置（和原始行为一致），AI 统计保留
	fleetCfg := cfg.FleetConfig()
	fleetCfg.Password = password
	if err := st.SetFleetConfig(ctx, fleetCfg); err != nil {
		logger.Errorf("写入车队配置失败: %v", err)
		os.Exit(1)
	}
	aiCfg := cfg.AiRuntimeConfig()
	if _, err := st.UpdateAiConfig(ctx, domain.AiConfigUpdate{
		Model:        &aiCfg.Model,
		ListenUser:   &aiCfg.ListenUser,
		Enabled:      &aiCfg.Enabled,
		AutoResponse: &aiCfg.AutoResponse,
	}); err != nil {
		logger.Errorf("写入 AI 配置失败: %v", err)
		os.Exit(1)
	}

	hub := events.NewHub()
	registry := fleet.NewRegistry(st, hub)
	ctrl := fleet.NewController(registry, st, hub, session.NewGatewayOpener(), cfg.Game.GatewayURL, fleetCfg)

	parser := ai.NewOpenAIParser(cfg.Ai.BaseURL, apiKey, st)
	pipeline := ai.NewPipeline(st, parser, ctrl, registry)
	pipeline.Bind(hub)

	srv := server.New(ctrl, st, hub)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("控制面监听 %s", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP 服务异常: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	logger.Info("收到退出信号，开始关停")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 先断 HTTP 和会话，最后并发关掉存储和密钥库
	_ = httpSrv.Shutdown(shutdownCtx)
	ctrl.DisconnectAll(shutdownCtx)
	srv.Close()
	mgr.Shutdown(shutdownCtx)
	logger.Info("已退出")
}

// openStore 按配置选择存储实现
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		return store.NewSQLStore(cfg.Store.DSN)
	}
	var snapshot persistence.Store
	if cfg.Store.DataDir != "" {
		snapshot = persistence.NewJSONFileService(cfg.Store.DataDir).NewStore("fleet", "state", "snapshot")
	}
	return store.NewMemStore(snapshot), nil
}
