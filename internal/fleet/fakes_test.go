package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/session"
	"github.com/craftbot/gofleet/internal/store"
)

// fakeSession 记录所有会话调用，供断言使用
type fakeSession struct {
	mu              sync.Mutex
	chats           []string
	attacks         []string
	pursues         []string
	pursueCleared   int
	controlsCleared int
	jumpPresses     int
	players         map[string]session.EntityRef
	closed          bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{players: make(map[string]session.EntityRef)}
}

func (f *fakeSession) addPlayer(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players[name] = session.EntityRef{EntityID: len(f.players) + 1, Name: name}
}

func (f *fakeSession) Chat(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeSession) Attack(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attacks = append(f.attacks, target)
	return nil
}

func (f *fakeSession) Pursue(target string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pursues = append(f.pursues, target)
	return nil
}

func (f *fakeSession) ClearPursue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pursueCleared++
	return nil
}

func (f *fakeSession) SetControl(name string, state bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "jump" && state {
		f.jumpPresses++
	}
	return nil
}

func (f *fakeSession) ClearControls() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlsCleared++
	return nil
}

func (f *fakeSession) FindPlayer(name string) (session.EntityRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.players[name]
	return ref, ok
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func (f *fakeSession) jumpCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jumpPresses
}

// fakeOpener 会话工厂的 fake：记录每次 Open，并保留事件回调供测试触发
type fakeOpener struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	events    []session.Events
	usernames []string
	failAll   bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{}
}

func (o *fakeOpener) Open(_ context.Context, opts session.Options, ev session.Events) (session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failAll {
		return nil, fmt.Errorf("dial refused")
	}
	s := newFakeSession()
	o.sessions = append(o.sessions, s)
	o.events = append(o.events, ev)
	o.usernames = append(o.usernames, opts.Username)
	return s, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// lastSession 最近一次打开的会话
func (o *fakeOpener) lastSession() *fakeSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sessions) == 0 {
		return nil
	}
	return o.sessions[len(o.sessions)-1]
}

func (o *fakeOpener) sessionAt(i int) *fakeSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[i]
}

// fireSpawn 触发第 i 个会话的 spawn 事件
func (o *fakeOpener) fireSpawn(i int, health int) {
	o.mu.Lock()
	ev := o.events[i]
	o.mu.Unlock()
	ev.OnSpawned(session.SpawnState{Health: health, Position: &domain.Position{X: 0, Y: 64, Z: 0}})
}

// fireEnd 触发第 i 个会话的终结事件
func (o *fakeOpener) fireEnd(i int, reason string) {
	o.mu.Lock()
	ev := o.events[i]
	o.mu.Unlock()
	ev.OnEnd(reason)
}

// fireChat 触发第 i 个会话的聊天事件
func (o *fakeOpener) fireChat(i int, author, content string) {
	o.mu.Lock()
	ev := o.events[i]
	o.mu.Unlock()
	ev.OnChat(author, content)
}

// newTestController 测试用控制器：内存存储 + fake 会话工厂 + 加速的时间参数
func newTestController(cfg *domain.FleetConfig) (*Controller, *fakeOpener, store.Store) {
	if cfg == nil {
		cfg = domain.DefaultFleetConfig()
		cfg.AutoReconnect = false
	}
	st := store.NewMemStore(nil)
	hub := events.NewHub()
	registry := NewRegistry(st, hub)
	opener := newFakeOpener()
	c := NewController(registry, st, hub, opener, "ws://gateway.test", cfg)
	c.loginDelay = time.Millisecond
	c.reconnectGrace = 10 * time.Millisecond
	c.antiIdleInterval = 30 * time.Millisecond
	c.antiIdleHold = time.Millisecond
	return c, opener, st
}
