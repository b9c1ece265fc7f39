package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/craftbot/gofleet/internal/domain"
)

func TestMemStoreBotCRUD(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	created, err := s.CreateBot(ctx, &domain.BotRecord{Name: "CraftBot_1"})
	if err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Status != domain.StatusOffline {
		t.Fatalf("expected offline status, got %s", created.Status)
	}

	got, err := s.GetBot(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetBot failed: %v", err)
	}
	if got.Name != "CraftBot_1" {
		t.Fatalf("unexpected name: %s", got.Name)
	}

	byName, err := s.GetBotByName(ctx, "CraftBot_1")
	if err != nil {
		t.Fatalf("GetBotByName failed: %v", err)
	}
	if byName.ID != created.ID {
		t.Fatalf("name index mismatch: %s != %s", byName.ID, created.ID)
	}

	updated, err := s.UpdateBot(ctx, created.ID, domain.BotUpdate{
		Status: domain.StatusPtr(domain.StatusOnline),
		Health: domain.IntPtr(20),
	})
	if err != nil {
		t.Fatalf("UpdateBot failed: %v", err)
	}
	if updated.Status != domain.StatusOnline || updated.Health == nil || *updated.Health != 20 {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := s.DeleteBot(ctx, created.ID); err != nil {
		t.Fatalf("DeleteBot failed: %v", err)
	}
	if _, err := s.GetBot(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.GetBotByName(ctx, "CraftBot_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected name index cleanup, got %v", err)
	}
}

func TestMemStoreRenameUpdatesNameIndex(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	created, err := s.CreateBot(ctx, &domain.BotRecord{Name: "old"})
	if err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	if _, err := s.UpdateBot(ctx, created.ID, domain.BotUpdate{Name: domain.StringPtr("new")}); err != nil {
		t.Fatalf("UpdateBot failed: %v", err)
	}
	if _, err := s.GetBotByName(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old name should be gone, got %v", err)
	}
	got, err := s.GetBotByName(ctx, "new")
	if err != nil {
		t.Fatalf("GetBotByName new failed: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("name index points at wrong record")
	}
}

func TestMemStoreLogRingCap(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	for i := 0; i < MaxLogEntries+50; i++ {
		if _, err := s.AddLog(ctx, domain.LogInfo, fmt.Sprintf("entry %d", i), nil); err != nil {
			t.Fatalf("AddLog failed: %v", err)
		}
	}
	logs, err := s.ListLogs(ctx, 0)
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	if len(logs) != MaxLogEntries {
		t.Fatalf("expected %d entries, got %d", MaxLogEntries, len(logs))
	}
	// 最旧的 50 条已被挤出
	if logs[0].Message != "entry 50" {
		t.Fatalf("expected oldest entry to be 'entry 50', got %q", logs[0].Message)
	}
}

func TestMemStoreChatRingCap(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	for i := 0; i < MaxChatMessages+10; i++ {
		_, err := s.AddChat(ctx, &domain.ChatMessage{Author: "player", Content: fmt.Sprintf("msg %d", i)})
		if err != nil {
			t.Fatalf("AddChat failed: %v", err)
		}
	}
	msgs, err := s.ListChat(ctx, 0)
	if err != nil {
		t.Fatalf("ListChat failed: %v", err)
	}
	if len(msgs) != MaxChatMessages {
		t.Fatalf("expected %d messages, got %d", MaxChatMessages, len(msgs))
	}
	if msgs[0].Content != "msg 10" {
		t.Fatalf("expected oldest message to be 'msg 10', got %q", msgs[0].Content)
	}
}

func TestMemStoreConfigRoundTrip(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	cfg, err := s.GetFleetConfig(ctx)
	if err != nil {
		t.Fatalf("GetFleetConfig failed: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 25565 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	cfg.Host = "mc.example.com"
	cfg.Port = 25566
	if err := s.SetFleetConfig(ctx, cfg); err != nil {
		t.Fatalf("SetFleetConfig failed: %v", err)
	}
	got, err := s.GetFleetConfig(ctx)
	if err != nil {
		t.Fatalf("GetFleetConfig failed: %v", err)
	}
	if got.Host != "mc.example.com" || got.Port != 25566 {
		t.Fatalf("config not persisted: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt should be set")
	}
}

func TestMemStoreAiConfigPartialUpdate(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()

	got, err := s.UpdateAiConfig(ctx, domain.AiConfigUpdate{
		ListenUser: domain.StringPtr("Steve"),
		Enabled:    domain.BoolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateAiConfig failed: %v", err)
	}
	if got.ListenUser != "Steve" || got.Enabled {
		t.Fatalf("partial update not applied: %+v", got)
	}
	// 未指定的字段保持默认值
	if got.Model != "gpt-5" || got.SuccessRate != 100 {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}
