package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/fleet"
	"github.com/craftbot/gofleet/internal/store"
	"github.com/craftbot/gofleet/pkg/sigchan"
	"github.com/craftbot/gofleet/pkg/syncgroup"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsStatsInterval = 5 * time.Second
	wsSendBuffer    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 控制面默认不做跨域限制，部署时套反代
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame 推送帧。Type 标识负载类型，Data 是对应的 JSON 对象。
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsHub 管理 WebSocket 客户端并把事件中心的事件广播出去。
// 慢客户端的发送缓冲满了就直接踢掉，不阻塞广播。
type wsHub struct {
	ctrl  *fleet.Controller
	store store.Store

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	statsKick *sigchan.Chan
	done      chan struct{}
	closeOnce sync.Once
	sg        *syncgroup.SyncGroup
}

func newWSHub(ctrl *fleet.Controller, st store.Store) *wsHub {
	h := &wsHub{
		ctrl:      ctrl,
		store:     st,
		clients:   make(map[*wsClient]struct{}),
		statsKick: sigchan.New(1),
		done:      make(chan struct{}),
		sg:        syncgroup.NewSyncGroup(),
	}
	h.sg.Add(h.statsLoop)
	h.sg.Run()
	return h
}

// bind 订阅事件中心，事件到达即广播
func (h *wsHub) bind(hub *events.Hub) {
	hub.BotCreated.Add(func(ctx context.Context, e *events.BotCreatedEvent) {
		h.broadcast("bot-created", e.Bot)
		h.statsKick.Emit()
	})
	hub.BotConnected.Add(func(ctx context.Context, e *events.BotConnectedEvent) {
		h.broadcastBotUpdate(ctx, e.BotID, "bot-connected")
		h.statsKick.Emit()
	})
	hub.BotDisconnected.Add(func(ctx context.Context, e *events.BotDisconnectedEvent) {
		h.broadcastBotUpdate(ctx, e.BotID, "bot-disconnected")
		h.statsKick.Emit()
	})
	hub.BotDeleted.Add(func(ctx context.Context, e *events.BotDeletedEvent) {
		h.broadcast("bot-deleted", gin.H{"botId": e.BotID, "name": e.Name})
		h.statsKick.Emit()
	})
	hub.LogAdded.Add(func(ctx context.Context, e *events.LogAddedEvent) {
		h.broadcast("log-added", e.Entry)
	})
	hub.ChatMessage.Add(func(ctx context.Context, e *events.ChatMessageEvent) {
		h.broadcast("chat-message", e.Message)
	})
	hub.ConfigUpdated.Add(func(ctx context.Context, e *events.ConfigUpdatedEvent) {
		h.broadcast("server-config-update", e.Config)
	})
}

// broadcastBotUpdate 连接状态变化时把整条档案推出去，前端不用自己拼
func (h *wsHub) broadcastBotUpdate(ctx context.Context, botID, frameType string) {
	rec, err := h.ctrl.Registry().Get(ctx, botID)
	if err != nil {
		// 已删除的机器人，只剩 ID 可发
		h.broadcast(frameType, gin.H{"botId": botID})
		return
	}
	h.broadcast(frameType, rec)
}

// statsLoop 周期性推送统计，拓扑变化时立即补推一次
func (h *wsHub) statsLoop() {
	ticker := time.NewTicker(wsStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		case <-h.statsKick.C():
		}
		if !h.hasClients() {
			continue
		}
		stats, err := h.ctrl.Snapshot(context.Background())
		if err != nil {
			srvLog.Warnf("统计快照失败: %v", err)
			continue
		}
		h.broadcast("server-stats", stats)
	}
}

func (h *wsHub) hasClients() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) > 0
}

func (h *wsHub) broadcast(frameType string, data any) {
	payload, err := json.Marshal(wsFrame{Type: frameType, Data: data})
	if err != nil {
		srvLog.Warnf("序列化推送帧失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// 发送缓冲满了，踢掉慢客户端
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *wsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *wsHub) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
		h.mu.Unlock()
		h.sg.Wait()
	})
}

// handleWS 升级连接并推送初始快照
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		srvLog.Warnf("WebSocket 升级失败: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.ws.register(client)

	s.sendInitialState(c.Request.Context(), client)

	go s.writePump(client)
	go s.readPump(client)
}

// sendInitialState 新客户端先收到一份全量状态
func (s *Server) sendInitialState(ctx context.Context, client *wsClient) {
	push := func(frameType string, data any) {
		payload, err := json.Marshal(wsFrame{Type: frameType, Data: data})
		if err != nil {
			return
		}
		select {
		case client.send <- payload:
		default:
		}
	}

	if bots, err := s.ctrl.Registry().List(ctx); err == nil {
		push("initial-bots", bots)
	}
	push("initial-config", s.ctrl.Config())
	if cfg, err := s.store.GetAiConfig(ctx); err == nil {
		push("initial-ai-config", cfg)
	}
	if logs, err := s.store.ListLogs(ctx, 100); err == nil {
		push("initial-logs", logs)
	}
	if msgs, err := s.store.ListChat(ctx, 100); err == nil {
		push("initial-chat", msgs)
	}
	if stats, err := s.ctrl.Snapshot(ctx); err == nil {
		push("server-stats", stats)
	}
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				// hub 已把这个客户端移除
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readPump 只消费控制帧和客户端断开，不接受入站指令
func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.ws.unregister(client)
		_ = client.conn.Close()
	}()
	client.conn.SetReadLimit(1024)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
