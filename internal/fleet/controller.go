package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/session"
	"github.com/craftbot/gofleet/internal/store"
)

var fleetLog = logrus.WithField("component", "fleet")

const (
	defaultLoginDelay       = 1 * time.Second
	defaultReconnectGrace   = 2 * time.Second
	defaultAntiIdleInterval = 60 * time.Second
	defaultAntiIdleHold     = 100 * time.Millisecond
)

// botHandle 每个机器人的运行时状态（不落盘）。
// 不变量：session 非空 ⇒ 状态为 connecting 或 online；handle 清空 ⇒ offline。
// 每个机器人至多一个重连定时器和一个防挂机任务。
type botHandle struct {
	session      session.Session
	isConnecting bool
	// terminated 只由 onSessionEnd / Disconnect 置位：
	// 连接尝试还没拿到会话句柄时就被终结，Open 返回后必须丢弃该会话。
	// 出生事件比 Open 返回先到不算终结（见 Connect 尾部的判断）。
	terminated     bool
	connectedAt    time.Time
	reconnectTimer *time.Timer
	antiIdleCancel context.CancelFunc
}

// Controller 每机器人连接状态机：connect / disconnect / delete / 自动重连。
// 重连只有一个触发点：会话终结事件（autoReconnect 开启时）。
type Controller struct {
	registry *Registry
	store    store.Store
	hub      *events.Hub
	opener   session.Opener

	gatewayURL string

	cfgMu sync.RWMutex
	cfg   *domain.FleetConfig

	mu      sync.Mutex
	handles map[string]*botHandle

	// 时间参数（测试里会调小）
	loginDelay       time.Duration
	reconnectGrace   time.Duration
	antiIdleInterval time.Duration
	antiIdleHold     time.Duration
}

// NewController 创建连接控制器
func NewController(registry *Registry, st store.Store, hub *events.Hub, opener session.Opener, gatewayURL string, cfg *domain.FleetConfig) *Controller {
	if cfg == nil {
		cfg = domain.DefaultFleetConfig()
	}
	return &Controller{
		registry:         registry,
		store:            st,
		hub:              hub,
		opener:           opener,
		gatewayURL:       gatewayURL,
		cfg:              cfg,
		handles:          make(map[string]*botHandle),
		loginDelay:       defaultLoginDelay,
		reconnectGrace:   defaultReconnectGrace,
		antiIdleInterval: defaultAntiIdleInterval,
		antiIdleHold:     defaultAntiIdleHold,
	}
}

// Config 返回当前配置的副本
func (c *Controller) Config() *domain.FleetConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	cp := *c.cfg
	return &cp
}

// Registry 暴露注册表（供管理面使用）
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Spawn 注册并连接一个新机器人。name 为空时自动生成。
func (c *Controller) Spawn(ctx context.Context, name string) (*domain.BotRecord, error) {
	rec, err := c.registry.Register(ctx, name)
	if err != nil {
		return nil, err
	}
	c.logf(ctx, domain.LogInfo, &rec.ID, "机器人 %s 已创建", rec.Name)
	_ = c.Connect(ctx, rec.ID)
	return rec, nil
}

// SpawnMany 批量创建机器人，单个失败不影响其余
func (c *Controller) SpawnMany(ctx context.Context, count int) []*domain.BotRecord {
	var out []*domain.BotRecord
	for i := 0; i < count; i++ {
		rec, err := c.Spawn(ctx, "")
		if err != nil {
			c.logf(ctx, domain.LogError, nil, "批量创建失败: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Connect 连接指定机器人。已在连接中或已在线时是幂等 no-op。
// 会话建立失败在本地恢复（记日志、必要时安排重连），不会向上抛。
// 只有机器人不存在时返回错误。
func (c *Controller) Connect(ctx context.Context, id string) error {
	rec, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	h := c.handles[id]
	if h == nil {
		h = &botHandle{}
		c.handles[id] = h
	}
	if h.isConnecting || h.session != nil {
		c.mu.Unlock()
		return nil
	}
	h.isConnecting = true
	h.terminated = false
	// connect 本身就是一次重连，等待中的定时器作废
	if h.reconnectTimer != nil {
		h.reconnectTimer.Stop()
		h.reconnectTimer = nil
	}
	c.mu.Unlock()

	cfg := c.Config()
	c.updateBot(ctx, id, domain.BotUpdate{
		Status:        domain.StatusPtr(domain.StatusConnecting),
		CurrentAction: domain.StringPtr("connecting"),
	})
	c.logf(ctx, domain.LogInfo, &id, "正在连接 %s 到 %s:%d", rec.Name, cfg.Host, cfg.Port)

	sess, err := c.opener.Open(ctx, session.Options{
		GatewayURL:      c.gatewayURL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		Username:        rec.Name,
		ProtocolVersion: cfg.ProtocolVersion,
	}, c.sessionEvents(id, rec.Name))
	if err != nil {
		c.mu.Lock()
		h.isConnecting = false
		c.mu.Unlock()
		c.updateBot(ctx, id, domain.BotUpdate{
			Status:        domain.StatusPtr(domain.StatusOffline),
			CurrentAction: domain.StringPtr("disconnected"),
		})
		c.logf(ctx, domain.LogError, &id, "%s 连接失败: %v", rec.Name, err)
		if cfg.AutoReconnect {
			c.scheduleReconnect(ctx, id, rec.Name, time.Duration(cfg.ReconnectDelay)*time.Second)
		}
		return nil
	}

	c.mu.Lock()
	if h.terminated {
		// 会话在 Open 返回前已被终结（断开或删除），丢弃。
		// 网关的读循环在 Open 里就启动了，出生事件可能先于 Open 返回；
		// 那只是连接成功得快，不是终结，会话照常保留。
		c.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	h.session = sess
	c.mu.Unlock()
	return nil
}

// sessionEvents 把会话事件绑定到指定机器人
func (c *Controller) sessionEvents(id, name string) session.Events {
	return session.Events{
		OnSpawned: func(state session.SpawnState) { c.onSpawned(id, name, state) },
		OnHealth: func(health int) {
			c.updateBot(context.Background(), id, domain.BotUpdate{Health: &health})
		},
		OnMoved: func(pos domain.Position) {
			c.updateBot(context.Background(), id, domain.BotUpdate{Position: &pos})
		},
		OnChat: func(author, content string) { c.onChat(id, name, author, content) },
		OnKicked: func(reason string) {
			c.logf(context.Background(), domain.LogWarning, &id, "%s 被踢出: %s", name, reason)
		},
		OnEnd: func(reason string) { c.onSessionEnd(id, name, reason) },
	}
}

// onSpawned 出生完成：Connecting -> Online
func (c *Controller) onSpawned(id, name string, state session.SpawnState) {
	ctx := context.Background()

	c.mu.Lock()
	h := c.handles[id]
	if h == nil {
		c.mu.Unlock()
		return
	}
	h.isConnecting = false
	h.connectedAt = time.Now()
	c.mu.Unlock()

	now := time.Now()
	rec, err := c.registry.Update(ctx, id, domain.BotUpdate{
		Status:        domain.StatusPtr(domain.StatusOnline),
		Health:        &state.Health,
		Position:      state.Position,
		CurrentAction: domain.StringPtr("idle"),
		UptimeAnchor:  &now,
	})
	if err != nil {
		fleetLog.Warnf("spawn 后更新档案失败: %v", err)
		return
	}

	c.hub.BotConnected.Emit(ctx, &events.BotConnectedEvent{BotID: id, Name: name, Timestamp: now})
	c.logf(ctx, domain.LogSuccess, &id, "%s 已连接", name)

	cfg := c.Config()
	if cfg.Password != "" && (cfg.AutoLogin || cfg.AutoRegister) {
		isRegistered := rec.IsRegistered
		time.AfterFunc(c.loginDelay, func() {
			c.autoAuth(id, name, isRegistered)
		})
	}
}

// autoAuth 出生后的自动登录/注册。失败只记日志，不影响连接状态。
func (c *Controller) autoAuth(id, name string, isRegistered bool) {
	ctx := context.Background()
	sess := c.onlineSession(id)
	if sess == nil {
		return
	}
	cfg := c.Config()
	if cfg.Password == "" {
		return
	}

	if isRegistered {
		if !cfg.AutoLogin {
			return
		}
		if err := sess.Chat(fmt.Sprintf("/login %s", cfg.Password)); err != nil {
			c.logf(ctx, domain.LogWarning, &id, "%s 自动登录失败: %v", name, err)
			return
		}
		c.logf(ctx, domain.LogInfo, &id, "%s 已发送登录指令", name)
		return
	}

	if !cfg.AutoRegister {
		return
	}
	if err := sess.Chat(fmt.Sprintf("/register %s %s", cfg.Password, cfg.Password)); err != nil {
		c.logf(ctx, domain.LogWarning, &id, "%s 自动注册失败: %v", name, err)
		return
	}
	c.updateBot(ctx, id, domain.BotUpdate{IsRegistered: domain.BoolPtr(true)})
	c.logf(ctx, domain.LogInfo, &id, "%s 已发送注册指令", name)
}

// onChat 收到游戏内聊天：落库并广播。机器人自己说的话不处理。
func (c *Controller) onChat(id, name, author, content string) {
	if author == name {
		return
	}
	ctx := context.Background()

	isBot := false
	if _, err := c.registry.GetByName(ctx, author); err == nil {
		isBot = true
	}

	msg, err := c.store.AddChat(ctx, &domain.ChatMessage{
		Author:  author,
		Content: content,
		IsBot:   isBot,
		BotID:   &id,
	})
	if err != nil {
		fleetLog.Warnf("保存聊天消息失败: %v", err)
		return
	}
	c.hub.ChatMessage.Emit(ctx, &events.ChatMessageEvent{Message: msg, BotID: id})
}

// onSessionEnd 会话终结：任何状态 -> Offline，必要时安排重连。
// 这是唯一的自动重连触发点。
func (c *Controller) onSessionEnd(id, name, reason string) {
	ctx := context.Background()

	c.mu.Lock()
	h := c.handles[id]
	if h == nil {
		c.mu.Unlock()
		return
	}
	h.session = nil
	h.isConnecting = false
	h.terminated = true
	h.connectedAt = time.Time{}
	c.stopTimersLocked(h)
	c.mu.Unlock()

	c.updateBot(ctx, id, domain.BotUpdate{
		Status:        domain.StatusPtr(domain.StatusOffline),
		CurrentAction: domain.StringPtr("disconnected"),
	})
	c.logf(ctx, domain.LogWarning, &id, "%s 断开连接: %s", name, reason)
	c.hub.BotDisconnected.Emit(ctx, &events.BotDisconnectedEvent{
		BotID: id, Name: name, Reason: reason, Timestamp: time.Now(),
	})

	cfg := c.Config()
	if cfg.AutoReconnect {
		delay := time.Duration(cfg.ReconnectDelay) * time.Second
		c.logf(ctx, domain.LogInfo, &id, "%s 将在 %d 秒后重连", name, cfg.ReconnectDelay)
		c.scheduleReconnect(ctx, id, name, delay)
	}
}

// scheduleReconnect 安排一次重连，替换已存在的定时器
func (c *Controller) scheduleReconnect(_ context.Context, id, name string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[id]
	if h == nil {
		// 机器人已删除
		return
	}
	if h.reconnectTimer != nil {
		h.reconnectTimer.Stop()
	}
	h.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if hh := c.handles[id]; hh != nil {
			hh.reconnectTimer = nil
		}
		c.mu.Unlock()
		// 过期定时器打在已删除的机器人上时 Connect 报 NotFound，直接忽略
		if err := c.Connect(context.Background(), id); err != nil {
			fleetLog.Debugf("定时重连 %s 跳过: %v", name, err)
		}
	})
}

// Disconnect 主动断开：取消两类定时器，关会话，置为 offline。
// 之后不会自动重连（显式断开是终态，直到再次 connect）。
func (c *Controller) Disconnect(ctx context.Context, id string) error {
	rec, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	h := c.handles[id]
	var sess session.Session
	if h != nil {
		c.stopTimersLocked(h)
		sess = h.session
		h.session = nil
		h.isConnecting = false
		h.terminated = true
		h.connectedAt = time.Time{}
	}
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}

	c.updateBot(ctx, id, domain.BotUpdate{
		Status:        domain.StatusPtr(domain.StatusOffline),
		CurrentAction: domain.StringPtr("idle"),
	})
	if sess != nil {
		c.logf(ctx, domain.LogInfo, &id, "%s 已断开", rec.Name)
		c.hub.BotDisconnected.Emit(ctx, &events.BotDisconnectedEvent{
			BotID: id, Name: rec.Name, Reason: "disconnected by operator", Timestamp: time.Now(),
		})
	}
	return nil
}

// Delete 断开并删除档案
func (c *Controller) Delete(ctx context.Context, id string) error {
	rec, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Disconnect(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.handles, id)
	c.mu.Unlock()

	if err := c.registry.Remove(ctx, id); err != nil {
		return err
	}
	c.hub.BotDeleted.Emit(ctx, &events.BotDeletedEvent{BotID: id, Name: rec.Name, Timestamp: time.Now()})
	c.logf(ctx, domain.LogInfo, nil, "机器人 %s 已删除", rec.Name)
	return nil
}

// ConnectAll 连接全部机器人，单个失败不影响其余
func (c *Controller) ConnectAll(ctx context.Context) {
	bots, err := c.registry.List(ctx)
	if err != nil {
		c.logf(ctx, domain.LogError, nil, "读取机器人列表失败: %v", err)
		return
	}
	for _, rec := range bots {
		if err := c.Connect(ctx, rec.ID); err != nil {
			c.logf(ctx, domain.LogError, &rec.ID, "连接 %s 失败: %v", rec.Name, err)
		}
	}
}

// DisconnectAll 断开全部机器人，单个失败不影响其余
func (c *Controller) DisconnectAll(ctx context.Context) {
	bots, err := c.registry.List(ctx)
	if err != nil {
		c.logf(ctx, domain.LogError, nil, "读取机器人列表失败: %v", err)
		return
	}
	for _, rec := range bots {
		if err := c.Disconnect(ctx, rec.ID); err != nil {
			c.logf(ctx, domain.LogError, &rec.ID, "断开 %s 失败: %v", rec.Name, err)
		}
	}
}

// UpdateConfig 整体替换配置并触发全舰队重连。
// 重连是 fire-and-forget：断开全部 -> 等待宽限期 -> 连接全部，调用方不等待完成。
func (c *Controller) UpdateConfig(ctx context.Context, newCfg *domain.FleetConfig) error {
	if err := c.store.SetFleetConfig(ctx, newCfg); err != nil {
		return err
	}
	c.cfgMu.Lock()
	cp := *newCfg
	c.cfg = &cp
	c.cfgMu.Unlock()

	c.hub.ConfigUpdated.Emit(ctx, &events.ConfigUpdatedEvent{Config: newCfg, Timestamp: time.Now()})
	c.logf(ctx, domain.LogInfo, nil, "服务器配置已更新 (%s:%d)，重连全部机器人", newCfg.Host, newCfg.Port)

	go func() {
		bg := context.Background()
		c.DisconnectAll(bg)
		time.Sleep(c.reconnectGrace)
		c.ConnectAll(bg)
	}()
	return nil
}

// onlineSession 返回指定机器人的在线会话，不在线时返回 nil
func (c *Controller) onlineSession(id string) session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[id]
	if h == nil || h.isConnecting {
		return nil
	}
	return h.session
}

// connectedAt 活跃会话的连接时间。
// 会话存在但还没出生（connectedAt 未设置）时不算，避免把零值计入平均在线时长。
func (c *Controller) connectedAtOf(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[id]
	if h == nil || h.session == nil || h.connectedAt.IsZero() {
		return time.Time{}, false
	}
	return h.connectedAt, true
}

// stopTimersLocked 取消重连定时器和防挂机任务，调用方必须持有 c.mu
func (c *Controller) stopTimersLocked(h *botHandle) {
	if h.reconnectTimer != nil {
		h.reconnectTimer.Stop()
		h.reconnectTimer = nil
	}
	if h.antiIdleCancel != nil {
		h.antiIdleCancel()
		h.antiIdleCancel = nil
	}
}

// updateBot 更新档案，失败只记日志
func (c *Controller) updateBot(ctx context.Context, id string, upd domain.BotUpdate) {
	if _, err := c.registry.Update(ctx, id, upd); err != nil {
		fleetLog.Debugf("更新机器人 %s 失败: %v", id, err)
	}
}

// logf 写操作日志：落库 + 广播 + 进程日志
func (c *Controller) logf(ctx context.Context, level domain.LogLevel, botID *string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	entry, err := c.store.AddLog(ctx, level, msg, botID)
	if err != nil {
		fleetLog.Warnf("写操作日志失败: %v", err)
	} else {
		c.hub.LogAdded.Emit(ctx, &events.LogAddedEvent{Entry: entry})
	}
	switch level {
	case domain.LogError:
		fleetLog.Error(msg)
	case domain.LogWarning:
		fleetLog.Warn(msg)
	default:
		fleetLog.Info(msg)
	}
}
