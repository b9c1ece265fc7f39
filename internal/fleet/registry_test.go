package fleet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/craftbot/gofleet/internal/events"
	"github.com/craftbot/gofleet/internal/store"
)

func newTestRegistry() *Registry {
	return NewRegistry(store.NewMemStore(nil), events.NewHub())
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Register(ctx, "Scout"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := r.Register(ctx, "Scout")
	if !errors.Is(err, ErrNameConflict) {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}

	// 注册表保持不变
	bots, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot after conflict, got %d", len(bots))
	}
}

func TestRegisterGeneratesName(t *testing.T) {
	r := newTestRegistry()
	rec, err := r.Register(context.Background(), "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !strings.HasPrefix(rec.Name, "CraftBot_") {
		t.Fatalf("expected generated CraftBot_ name, got %q", rec.Name)
	}
	if rec.CurrentAction != "idle" {
		t.Fatalf("expected initial action 'idle', got %q", rec.CurrentAction)
	}
}

func TestRenameConflict(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, err := r.Register(ctx, "Alpha")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register(ctx, "Beta"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := r.Rename(ctx, a.ID, "Beta"); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}

	renamed, err := r.Rename(ctx, a.ID, "Gamma")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if renamed.Name != "Gamma" {
		t.Fatalf("expected Gamma, got %q", renamed.Name)
	}
	if _, err := r.GetByName(ctx, "Alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old name should be gone, got %v", err)
	}
}

func TestGetUnknownBot(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Remove(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
