package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/session"
	"github.com/craftbot/gofleet/internal/store"
)

func TestConnectIsIdempotent(t *testing.T) {
	c, opener, _ := newTestController(nil)
	ctx := context.Background()

	rec, err := c.registry.Register(ctx, "Solo")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Connect(ctx, rec.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Connect(ctx, rec.ID); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if opener.openCount() != 1 {
		t.Fatalf("expected exactly one session creation, got %d", opener.openCount())
	}

	// spawn 之后再 connect 依然是 no-op
	opener.fireSpawn(0, 20)
	if err := c.Connect(ctx, rec.ID); err != nil {
		t.Fatalf("Connect after spawn failed: %v", err)
	}
	if opener.openCount() != 1 {
		t.Fatalf("expected no new session after spawn, got %d", opener.openCount())
	}
}

func TestSpawnTransitionsToOnline(t *testing.T) {
	c, opener, _ := newTestController(nil)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Miner")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	got, err := c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusConnecting {
		t.Fatalf("expected connecting before spawn event, got %s", got.Status)
	}

	opener.fireSpawn(0, 18)

	got, err = c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusOnline {
		t.Fatalf("expected online after spawn, got %s", got.Status)
	}
	if got.Health == nil || *got.Health != 18 {
		t.Fatalf("expected health synced from spawn, got %+v", got.Health)
	}
	if got.CurrentAction != "idle" {
		t.Fatalf("expected action 'idle', got %q", got.CurrentAction)
	}
	if got.UptimeAnchor == nil {
		t.Fatal("expected uptime anchor set")
	}
}

// eagerOpener 在 Open 返回之前就触发出生事件。
// 真实网关的读循环在 Open 里启动，出生帧可能抢在 Open 返回之前送达。
type eagerOpener struct {
	fakeOpener
}

func (o *eagerOpener) Open(ctx context.Context, opts session.Options, ev session.Events) (session.Session, error) {
	s, err := o.fakeOpener.Open(ctx, opts, ev)
	if err != nil {
		return nil, err
	}
	ev.OnSpawned(session.SpawnState{Health: 20})
	return s, nil
}

func TestSpawnBeforeOpenReturnsKeepsSession(t *testing.T) {
	cfg := domain.DefaultFleetConfig()
	cfg.AutoReconnect = false
	st := store.NewMemStore(nil)
	hub := events.NewHub()
	opener := &eagerOpener{}
	c := NewController(NewRegistry(st, hub), st, hub, opener, "ws://gateway.test", cfg)
	c.loginDelay = time.Millisecond
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Sprinter")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	got, err := c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusOnline {
		t.Fatalf("expected online after fast spawn, got %s", got.Status)
	}
	// 抢跑的出生事件不是终结，会话必须保留
	if opener.sessionAt(0).isClosed() {
		t.Fatal("healthy session must not be discarded after a fast spawn")
	}
	if c.onlineSession(rec.ID) == nil {
		t.Fatal("online bot must hold a session handle")
	}
}

func TestSessionEndSchedulesReconnect(t *testing.T) {
	cfg := domain.DefaultFleetConfig()
	cfg.AutoReconnect = true
	cfg.ReconnectDelay = 0 // 测试里立即重连
	c, opener, _ := newTestController(cfg)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Phoenix")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	opener.fireSpawn(0, 20)

	opener.fireEnd(0, "connection lost")

	// 重连定时器延迟为 0，很快会再次 Open
	deadline := time.Now().Add(2 * time.Second)
	for opener.openCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected automatic reconnect, open count=%d", opener.openCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusConnecting {
		t.Fatalf("expected connecting after auto reconnect, got %s", got.Status)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	cfg := domain.DefaultFleetConfig()
	cfg.AutoReconnect = true
	cfg.ReconnectDelay = 0
	c, opener, _ := newTestController(cfg)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Hermit")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	opener.fireSpawn(0, 20)

	if err := c.Disconnect(ctx, rec.ID); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !opener.sessionAt(0).isClosed() {
		t.Fatal("expected session closed on disconnect")
	}

	// autoReconnect 开着也不能自动重连，显式断开是终态
	time.Sleep(100 * time.Millisecond)
	if opener.openCount() != 1 {
		t.Fatalf("expected no reconnect after explicit disconnect, got %d opens", opener.openCount())
	}

	got, err := c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusOffline || got.CurrentAction != "idle" {
		t.Fatalf("expected offline/idle, got %s/%q", got.Status, got.CurrentAction)
	}

	// 再次 connect 恢复正常
	if err := c.Connect(ctx, rec.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if opener.openCount() != 2 {
		t.Fatalf("expected new session after manual connect, got %d", opener.openCount())
	}
}

func TestConnectFailureSchedulesReconnect(t *testing.T) {
	cfg := domain.DefaultFleetConfig()
	cfg.AutoReconnect = true
	cfg.ReconnectDelay = 0
	c, opener, _ := newTestController(cfg)
	ctx := context.Background()

	opener.mu.Lock()
	opener.failAll = true
	opener.mu.Unlock()

	rec, err := c.Spawn(ctx, "Unlucky")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	got, err := c.registry.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusOffline {
		t.Fatalf("expected offline after dial failure, got %s", got.Status)
	}

	// 放开失败开关，重连定时器应该把它连上
	opener.mu.Lock()
	opener.failAll = false
	opener.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for opener.openCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected reconnect after dial failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeleteRemovesBot(t *testing.T) {
	c, opener, _ := newTestController(nil)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Doomed")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	opener.fireSpawn(0, 20)

	if err := c.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !opener.sessionAt(0).isClosed() {
		t.Fatal("expected session closed on delete")
	}
	if _, err := c.registry.Get(ctx, rec.ID); err == nil {
		t.Fatal("expected bot gone after delete")
	}
}

func TestUpdateConfigReconnectsFleet(t *testing.T) {
	c, opener, _ := newTestController(nil)
	ctx := context.Background()

	a, _ := c.Spawn(ctx, "One")
	b, _ := c.Spawn(ctx, "Two")
	opener.fireSpawn(0, 20)
	opener.fireSpawn(1, 20)
	_ = a
	_ = b

	newCfg := domain.DefaultFleetConfig()
	newCfg.Host = "new.example.com"
	newCfg.Port = 25570
	if err := c.UpdateConfig(ctx, newCfg); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	// fire-and-forget：断开全部 -> 宽限期 -> 重连全部
	deadline := time.Now().Add(2 * time.Second)
	for opener.openCount() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("expected fleet reconnect after config update, open count=%d", opener.openCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !opener.sessionAt(0).isClosed() || !opener.sessionAt(1).isClosed() {
		t.Fatal("expected old sessions closed by config update")
	}
	if c.Config().Host != "new.example.com" {
		t.Fatalf("expected config swapped, got host %q", c.Config().Host)
	}
}

func TestStaleReconnectTimerAfterDeleteIsNoop(t *testing.T) {
	cfg := domain.DefaultFleetConfig()
	cfg.AutoReconnect = true
	cfg.ReconnectDelay = 0
	c, opener, _ := newTestController(cfg)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Ghost")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	opener.fireSpawn(0, 20)

	// 终结事件安排了重连，删除必须把它取消掉
	opener.fireEnd(0, "server restart")
	if err := c.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if opener.openCount() > 2 {
		t.Fatalf("stale reconnect fired against deleted bot, opens=%d", opener.openCount())
	}
	if _, err := c.registry.Get(ctx, rec.ID); err == nil {
		t.Fatal("bot should stay deleted")
	}
}

func TestChatPersistedAndOwnMessagesIgnored(t *testing.T) {
	c, opener, st := newTestController(nil)
	ctx := context.Background()

	rec, err := c.Spawn(ctx, "Listener")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	opener.fireSpawn(0, 20)
	_ = rec

	opener.fireChat(0, "Listener", "echo of myself")
	opener.fireChat(0, "Steve", "hello fleet")

	msgs, err := st.ListChat(ctx, 0)
	if err != nil {
		t.Fatalf("ListChat failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected only the foreign message persisted, got %d", len(msgs))
	}
	if msgs[0].Author != "Steve" || msgs[0].Content != "hello fleet" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].IsBot {
		t.Fatal("Steve is not a fleet bot")
	}
}
