package session

import (
	"context"
	"sync"
	"testing"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/pkg/syncgroup"
)

// newTestSession 构造一个不带底层连接的会话，只用于测试帧分发
func newTestSession(ev Events) *gatewaySession {
	_, cancel := context.WithCancel(context.Background())
	return &gatewaySession{
		ev:      ev,
		cancel:  cancel,
		sg:      syncgroup.NewSyncGroup(),
		players: make(map[string]EntityRef),
		closed:  make(chan struct{}),
	}
}

func TestHandleMessageSpawned(t *testing.T) {
	var got SpawnState
	s := newTestSession(Events{
		OnSpawned: func(state SpawnState) { got = state },
	})

	s.handleMessage([]byte(`{"type":"spawned","health":20,"position":{"x":10,"y":64,"z":-5}}`))

	if got.Health != 20 {
		t.Fatalf("expected health 20, got %d", got.Health)
	}
	if got.Position == nil || got.Position.X != 10 || got.Position.Y != 64 || got.Position.Z != -5 {
		t.Fatalf("unexpected position: %+v", got.Position)
	}
}

func TestHandleMessageChat(t *testing.T) {
	var author, content string
	s := newTestSession(Events{
		OnChat: func(a, c string) { author, content = a, c },
	})

	s.handleMessage([]byte(`{"type":"chat","author":"Steve","content":"hello bots"}`))

	if author != "Steve" || content != "hello bots" {
		t.Fatalf("unexpected chat: %q / %q", author, content)
	}
}

func TestHandleMessagePlayerCache(t *testing.T) {
	s := newTestSession(Events{})

	s.handleMessage([]byte(`{"type":"player_joined","name":"Alex","entityId":7}`))
	ref, ok := s.FindPlayer("Alex")
	if !ok {
		t.Fatal("expected Alex in player cache")
	}
	if ref.EntityID != 7 {
		t.Fatalf("expected entity id 7, got %d", ref.EntityID)
	}

	s.handleMessage([]byte(`{"type":"player_left","name":"Alex"}`))
	if _, ok := s.FindPlayer("Alex"); ok {
		t.Fatal("expected Alex removed from player cache")
	}
}

func TestHandleMessageHealthAndMove(t *testing.T) {
	var health int
	var pos domain.Position
	s := newTestSession(Events{
		OnHealth: func(h int) { health = h },
		OnMoved:  func(p domain.Position) { pos = p },
	})

	s.handleMessage([]byte(`{"type":"health","health":13}`))
	s.handleMessage([]byte(`{"type":"move","position":{"x":1,"y":2,"z":3}}`))

	if health != 13 {
		t.Fatalf("expected health 13, got %d", health)
	}
	if pos.X != 1 || pos.Y != 2 || pos.Z != 3 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestEndFiresOnce(t *testing.T) {
	var mu sync.Mutex
	var reasons []string
	s := newTestSession(Events{
		OnEnd: func(reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		},
	})
	// finish 会尝试关闭底层连接，测试里没有连接，跳过 conn.Close
	s.endOnce.Do(func() {
		s.cancel()
		if s.ev.OnEnd != nil {
			s.ev.OnEnd("first")
		}
	})
	s.endOnce.Do(func() {
		if s.ev.OnEnd != nil {
			s.ev.OnEnd("second")
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != "first" {
		t.Fatalf("expected single end event 'first', got %v", reasons)
	}
}

func TestHandleMessageKicked(t *testing.T) {
	var kicked string
	var ended string
	s := newTestSession(Events{
		OnKicked: func(reason string) { kicked = reason },
	})
	// 拦截 finish 对 nil conn 的访问：直接替换 OnEnd 并预先触发 once 以外的路径不可行，
	// 这里只验证 kicked 回调本身
	s.ev.OnEnd = func(reason string) { ended = reason }
	s.endOnce.Do(func() {}) // 吃掉 finish 的 once，避免触碰 nil conn

	s.handleMessage([]byte(`{"type":"kicked","reason":"banned"}`))

	if kicked != "banned" {
		t.Fatalf("expected kicked reason 'banned', got %q", kicked)
	}
	if ended != "" {
		t.Fatalf("end should have been consumed by the test, got %q", ended)
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	s := newTestSession(Events{})
	// 未知类型和非 JSON 都不应 panic
	s.handleMessage([]byte(`{"type":"mystery"}`))
	s.handleMessage([]byte(`PING incompatible garbage`))
}
