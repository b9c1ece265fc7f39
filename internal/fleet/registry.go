package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/craftbot/gofleet/internal/domain"
	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/store"
)

var (
	// ErrNameConflict 机器人名字已被占用
	ErrNameConflict = errors.New("fleet: bot name already exists")
	// ErrNotFound 机器人不存在
	ErrNotFound = errors.New("fleet: bot not found")
)

// Registry 机器人档案目录。名字全局唯一。
type Registry struct {
	store store.Store
	hub   *events.Hub
}

// NewRegistry 创建注册表
func NewRegistry(st store.Store, hub *events.Hub) *Registry {
	return &Registry{store: st, hub: hub}
}

// Register 注册新机器人。name 为空时自动生成一个未占用的名字。
func (r *Registry) Register(ctx context.Context, name string) (*domain.BotRecord, error) {
	if name == "" {
		var err error
		name, err = r.generateName(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := r.store.GetBotByName(ctx, name); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	rec, err := r.store.CreateBot(ctx, &domain.BotRecord{
		Name:          name,
		Status:        domain.StatusOffline,
		CurrentAction: "idle",
	})
	if err != nil {
		return nil, err
	}

	r.hub.BotCreated.Emit(ctx, &events.BotCreatedEvent{Bot: rec, Timestamp: time.Now()})
	return rec, nil
}

// generateName 生成 CraftBot_<n> 形式的未占用名字
func (r *Registry) generateName(ctx context.Context) (string, error) {
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("CraftBot_%d", rand.Intn(10000))
		_, err := r.store.GetBotByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("fleet: unable to generate a unique bot name")
}

// Get 按 id 查找
func (r *Registry) Get(ctx context.Context, id string) (*domain.BotRecord, error) {
	rec, err := r.store.GetBot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// GetByName 按名字查找
func (r *Registry) GetByName(ctx context.Context, name string) (*domain.BotRecord, error) {
	rec, err := r.store.GetBotByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

// List 全部机器人（按创建顺序）
func (r *Registry) List(ctx context.Context) ([]*domain.BotRecord, error) {
	return r.store.ListBots(ctx)
}

// Update 合并部分字段并刷新 lastSeen
func (r *Registry) Update(ctx context.Context, id string, upd domain.BotUpdate) (*domain.BotRecord, error) {
	rec, err := r.store.UpdateBot(ctx, id, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Rename 改名，冲突时报 ErrNameConflict
func (r *Registry) Rename(ctx context.Context, id, newName string) (*domain.BotRecord, error) {
	if existing, err := r.store.GetBotByName(ctx, newName); err == nil {
		if existing.ID == id {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, newName)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return r.Update(ctx, id, domain.BotUpdate{Name: domain.StringPtr(newName)})
}

// Remove 删除档案
func (r *Registry) Remove(ctx context.Context, id string) error {
	err := r.store.DeleteBot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
