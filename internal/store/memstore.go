package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/pkg/logger"
	"github.com/craftbot/gofleet/pkg/persistence"
)

// memSnapshot 写入 JSON 快照的结构（日志和聊天不落盘）
type memSnapshot struct {
	Bots        []*domain.BotRecord `json:"bots"`
	FleetConfig *domain.FleetConfig `json:"fleetConfig"`
	AiConfig    *domain.AiConfig    `json:"aiConfig"`
}

// MemStore 内存存储。所有方法并发安全。
// 传入 persistence 时，机器人档案和配置会在每次变更后写快照。
type MemStore struct {
	mu sync.RWMutex

	bots     map[string]*domain.BotRecord
	botOrder []string // 按创建顺序排列的 ID
	byName   map[string]string

	fleetCfg *domain.FleetConfig
	aiCfg    *domain.AiConfig

	logs []*domain.LogEntry
	chat []*domain.ChatMessage

	snapshot persistence.Store // 可以为 nil
}

// NewMemStore 创建内存存储。snapshot 为 nil 时不做持久化。
func NewMemStore(snapshot persistence.Store) *MemStore {
	s := &MemStore{
		bots:     make(map[string]*domain.BotRecord),
		byName:   make(map[string]string),
		fleetCfg: domain.DefaultFleetConfig(),
		aiCfg:    domain.DefaultAiConfig(),
		snapshot: snapshot,
	}
	s.restore()
	return s
}

// restore 从快照恢复（快照不存在时保持默认值）
func (s *MemStore) restore() {
	if s.snapshot == nil {
		return
	}
	var snap memSnapshot
	if err := s.snapshot.Load(&snap); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			logger.Warnf("恢复快照失败: %v", err)
		}
		return
	}
	for _, b := range snap.Bots {
		// 重启后所有机器人都是离线的
		b.Status = domain.StatusOffline
		b.Health = nil
		b.UptimeAnchor = nil
		s.bots[b.ID] = b
		s.botOrder = append(s.botOrder, b.ID)
		s.byName[b.Name] = b.ID
	}
	if snap.FleetConfig != nil {
		s.fleetCfg = snap.FleetConfig
	}
	if snap.AiConfig != nil {
		s.aiCfg = snap.AiConfig
	}
	logger.Infof("从快照恢复 %d 个机器人档案", len(snap.Bots))
}

// persist 写快照，调用方必须持有锁
func (s *MemStore) persist() {
	if s.snapshot == nil {
		return
	}
	snap := memSnapshot{
		FleetConfig: s.fleetCfg,
		AiConfig:    s.aiCfg,
	}
	for _, id := range s.botOrder {
		snap.Bots = append(snap.Bots, s.bots[id])
	}
	if err := s.snapshot.Save(&snap); err != nil {
		logger.Warnf("写快照失败: %v", err)
	}
}

func (s *MemStore) CreateBot(_ context.Context, rec *domain.BotRecord) (*domain.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if cp.ID == "" {
		cp.ID = newID()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.LastSeen.IsZero() {
		cp.LastSeen = now
	}
	if cp.Status == "" {
		cp.Status = domain.StatusOffline
	}
	s.bots[cp.ID] = &cp
	s.botOrder = append(s.botOrder, cp.ID)
	s.byName[cp.Name] = cp.ID
	s.persist()

	out := cp
	return &out, nil
}

func (s *MemStore) GetBot(_ context.Context, id string) (*domain.BotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) GetBotByName(_ context.Context, name string) (*domain.BotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.bots[id]
	return &cp, nil
}

func (s *MemStore) ListBots(_ context.Context) ([]*domain.BotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.BotRecord, 0, len(s.botOrder))
	for _, id := range s.botOrder {
		cp := *s.bots[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) UpdateBot(_ context.Context, id string, upd domain.BotUpdate) (*domain.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil && *upd.Name != rec.Name {
		delete(s.byName, rec.Name)
		s.byName[*upd.Name] = id
	}
	applyBotUpdate(rec, upd)
	rec.LastSeen = time.Now()
	s.persist()

	cp := *rec
	return &cp, nil
}

func (s *MemStore) DeleteBot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bots[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.bots, id)
	delete(s.byName, rec.Name)
	for i, bid := range s.botOrder {
		if bid == id {
			s.botOrder = append(s.botOrder[:i], s.botOrder[i+1:]...)
			break
		}
	}
	s.persist()
	return nil
}

func (s *MemStore) GetFleetConfig(_ context.Context) (*domain.FleetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.fleetCfg
	return &cp, nil
}

func (s *MemStore) SetFleetConfig(_ context.Context, cfg *domain.FleetConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.UpdatedAt = time.Now()
	s.fleetCfg = &cp
	s.persist()
	return nil
}

func (s *MemStore) GetAiConfig(_ context.Context) (*domain.AiConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.aiCfg
	return &cp, nil
}

func (s *MemStore) SetAiConfig(_ context.Context, cfg *domain.AiConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.UpdatedAt = time.Now()
	s.aiCfg = &cp
	s.persist()
	return nil
}

func (s *MemStore) UpdateAiConfig(_ context.Context, upd domain.AiConfigUpdate) (*domain.AiConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyAiUpdate(s.aiCfg, upd)
	s.aiCfg.UpdatedAt = time.Now()
	s.persist()
	cp := *s.aiCfg
	return &cp, nil
}

func (s *MemStore) AddLog(_ context.Context, level domain.LogLevel, message string, botID *string) (*domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &domain.LogEntry{
		ID:        newID(),
		Level:     level,
		Message:   message,
		BotID:     botID,
		Timestamp: time.Now(),
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > MaxLogEntries {
		s.logs = s.logs[len(s.logs)-MaxLogEntries:]
	}
	cp := *entry
	return &cp, nil
}

func (s *MemStore) ListLogs(_ context.Context, limit int) ([]*domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ClearLogs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	return nil
}

func (s *MemStore) AddChat(_ context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	if cp.ID == "" {
		cp.ID = newID()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.chat = append(s.chat, &cp)
	if len(s.chat) > MaxChatMessages {
		s.chat = s.chat[len(s.chat)-MaxChatMessages:]
	}
	out := cp
	return &out, nil
}

func (s *MemStore) ListChat(_ context.Context, limit int) ([]*domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chat
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist()
	return nil
}
