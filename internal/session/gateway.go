package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/pkg/syncgroup"
)

var sessionLog = logrus.WithField("component", "session")

const (
	handshakeTimeout = 30 * time.Second
	pingInterval     = 10 * time.Second
	readTimeout      = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// GatewayOpener 通过协议网关建立会话
type GatewayOpener struct{}

func NewGatewayOpener() *GatewayOpener {
	return &GatewayOpener{}
}

// frame 网关上下行的统一帧格式
type frame struct {
	Type     string           `json:"type"`
	Host     string           `json:"host,omitempty"`
	Port     int              `json:"port,omitempty"`
	Username string           `json:"username,omitempty"`
	Version  string           `json:"version,omitempty"`
	Health   *int             `json:"health,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
	Author   string           `json:"author,omitempty"`
	Content  string           `json:"content,omitempty"`
	Text     string           `json:"text,omitempty"`
	Name     string           `json:"name,omitempty"`
	EntityID int              `json:"entityId,omitempty"`
	Target   string           `json:"target,omitempty"`
	Distance float64          `json:"distance,omitempty"`
	State    bool             `json:"state,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// gatewaySession 基于 gorilla/websocket 的会话实现。
// 读循环 + ping 循环由 syncgroup 管理；终结事件只触发一次。
type gatewaySession struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	ev     Events
	cancel context.CancelFunc
	sg     *syncgroup.SyncGroup

	players   map[string]EntityRef
	playersMu sync.RWMutex

	endOnce sync.Once
	closed  chan struct{}
}

// Open 拨号网关并发送 join 握手，随后启动读循环
func (o *GatewayOpener) Open(ctx context.Context, opts Options, ev Events) (Session, error) {
	if opts.GatewayURL == "" {
		return nil, fmt.Errorf("session: gateway url is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.GatewayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &gatewaySession{
		conn:    conn,
		ev:      ev,
		cancel:  cancel,
		sg:      syncgroup.NewSyncGroup(),
		players: make(map[string]EntityRef),
		closed:  make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout * 2))
	})

	join := frame{
		Type:     "join",
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Version:  opts.ProtocolVersion,
	}
	if err := s.writeFrame(&join); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	s.sg.Add(func() { s.readLoop(sessCtx) })
	s.sg.Add(func() { s.pingLoop(sessCtx) })
	s.sg.Run()

	sessionLog.Infof("会话已建立: %s -> %s:%d", opts.Username, opts.Host, opts.Port)
	return s, nil
}

func (s *gatewaySession) writeFrame(f *frame) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

func (s *gatewaySession) writeTextMessage(msg string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *gatewaySession) readLoop(ctx context.Context) {
	defer s.cancel()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			sessionLog.Errorf("设置读取超时失败: %v", err)
			s.finish("connection lost")
			return
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.finish("connection closed")
				return
			}
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.closed:
				// 主动关闭，不再上报
				return
			default:
			}
			sessionLog.Warnf("会话读取错误: %v", err)
			s.finish("connection lost")
			return
		}

		s.handleMessage(message)
	}
}

func (s *gatewaySession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				sessionLog.Warnf("发送 PING 失败: %v", err)
				return
			}
		}
	}
}

// handleMessage 解析并分发一条网关消息
func (s *gatewaySession) handleMessage(message []byte) {
	// 兼容：网关可能发送纯文本 PING/PONG
	switch string(message) {
	case "PING":
		if err := s.writeTextMessage("PONG"); err != nil {
			sessionLog.Warnf("回复 PONG 失败: %v", err)
		}
		return
	case "PONG":
		return
	}

	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		preview := message
		if len(preview) > 200 {
			preview = preview[:200]
		}
		sessionLog.Debugf("解析会话消息失败: %v, msg=%q", err, string(preview))
		return
	}
	s.handleFrame(&f)
}

func (s *gatewaySession) handleFrame(f *frame) {
	switch f.Type {
	case "spawned":
		state := SpawnState{Position: f.Position}
		if f.Health != nil {
			state.Health = *f.Health
		}
		if s.ev.OnSpawned != nil {
			s.ev.OnSpawned(state)
		}
	case "health":
		if f.Health != nil && s.ev.OnHealth != nil {
			s.ev.OnHealth(*f.Health)
		}
	case "move":
		if f.Position != nil && s.ev.OnMoved != nil {
			s.ev.OnMoved(*f.Position)
		}
	case "chat":
		if s.ev.OnChat != nil {
			s.ev.OnChat(f.Author, f.Content)
		}
	case "player_joined":
		ref := EntityRef{EntityID: f.EntityID, Name: f.Name}
		s.playersMu.Lock()
		s.players[f.Name] = ref
		s.playersMu.Unlock()
		if s.ev.OnPlayerJoined != nil {
			s.ev.OnPlayerJoined(ref)
		}
	case "player_left":
		s.playersMu.Lock()
		delete(s.players, f.Name)
		s.playersMu.Unlock()
		if s.ev.OnPlayerLeft != nil {
			s.ev.OnPlayerLeft(f.Name)
		}
	case "kicked":
		if s.ev.OnKicked != nil {
			s.ev.OnKicked(f.Reason)
		}
		s.finish(fmt.Sprintf("kicked: %s", f.Reason))
	case "end":
		reason := f.Reason
		if reason == "" {
			reason = "connection ended"
		}
		s.finish(reason)
	default:
		sessionLog.Debugf("未知会话消息类型: %s", f.Type)
	}
}

// finish 触发终结事件（至多一次）并断开底层连接
func (s *gatewaySession) finish(reason string) {
	s.endOnce.Do(func() {
		s.cancel()
		s.connMu.Lock()
		_ = s.conn.Close()
		s.connMu.Unlock()
		if s.ev.OnEnd != nil {
			s.ev.OnEnd(reason)
		}
	})
}

func (s *gatewaySession) Chat(text string) error {
	return s.writeFrame(&frame{Type: "chat", Text: text})
}

func (s *gatewaySession) Attack(target string) error {
	if _, ok := s.FindPlayer(target); !ok {
		return fmt.Errorf("session: player %q not found", target)
	}
	return s.writeFrame(&frame{Type: "attack", Target: target})
}

func (s *gatewaySession) Pursue(target string, distance float64) error {
	if _, ok := s.FindPlayer(target); !ok {
		return fmt.Errorf("session: player %q not found", target)
	}
	return s.writeFrame(&frame{Type: "pursue", Target: target, Distance: distance})
}

func (s *gatewaySession) ClearPursue() error {
	return s.writeFrame(&frame{Type: "pursue_clear"})
}

func (s *gatewaySession) SetControl(name string, state bool) error {
	return s.writeFrame(&frame{Type: "control", Name: name, State: state})
}

func (s *gatewaySession) ClearControls() error {
	return s.writeFrame(&frame{Type: "control_clear"})
}

func (s *gatewaySession) FindPlayer(name string) (EntityRef, bool) {
	s.playersMu.RLock()
	defer s.playersMu.RUnlock()
	ref, ok := s.players[name]
	return ref, ok
}

// Close 主动断开。主动断开不触发 OnEnd（上层自己知道自己断的）。
func (s *gatewaySession) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	s.cancel()

	s.connMu.Lock()
	err := s.conn.Close()
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sg.WaitAndClear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		sessionLog.Warnf("等待会话 goroutine 完成超时（5秒）")
	}
	return err
}
