package confcache

import (
	"context"
	"testing"
	"time"

	"warden/internal/guard"
	"warden/internal/storage"

	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store, zap.NewNop())
}

func TestAbsentConfigurationMeansDisabled(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, present, err := cache.GetConfiguration(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if present {
		t.Fatalf("expected no configuration")
	}
	if cache.IsActionActive(ctx, "g1", guard.ActionBanMember) {
		t.Fatalf("expected inactive without configuration")
	}
}

func TestEnableDefaultsToAllActions(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Enable(ctx, "g1", nil); err != nil {
		t.Fatalf("enable: %v", err)
	}
	for _, action := range guard.AllActions() {
		if !cache.IsActionActive(ctx, "g1", action) {
			t.Fatalf("expected %s active", action)
		}
	}
}

func TestEnableSubsetThenDisable(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Enable(ctx, "g1", []guard.Action{guard.ActionBanMember}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !cache.IsActionActive(ctx, "g1", guard.ActionBanMember) {
		t.Fatalf("expected ban_member active")
	}
	if cache.IsActionActive(ctx, "g1", guard.ActionCreateChannel) {
		t.Fatalf("expected create_channel inactive")
	}

	if err := cache.Disable(ctx, "g1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if cache.IsActionActive(ctx, "g1", guard.ActionBanMember) {
		t.Fatalf("expected inactive after disable")
	}
}

func TestWriteInvalidatesCachedEntry(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, ok := cache.GetLimit(ctx, "g1", guard.ActionBanMember); ok {
		t.Fatalf("expected no limit yet")
	}
	// The miss above populated the cache; the write must invalidate it.
	if err := cache.SetLimit(ctx, "g1", guard.ActionBanMember, 3, 10*time.Second); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	limit, ok := cache.GetLimit(ctx, "g1", guard.ActionBanMember)
	if !ok {
		t.Fatalf("expected limit visible after write")
	}
	if limit.MaxCount != 3 || limit.WindowMS != 10000 {
		t.Fatalf("unexpected limit: %+v", limit)
	}

	if err := cache.SetPunishment(ctx, "g1", guard.ActionBanMember, guard.PunishTimeout, time.Minute); err != nil {
		t.Fatalf("set punishment: %v", err)
	}
	punishment, ok := cache.GetPunishment(ctx, "g1", guard.ActionBanMember)
	if !ok || punishment.Kind != string(guard.PunishTimeout) {
		t.Fatalf("unexpected punishment: ok=%v %+v", ok, punishment)
	}
}

func TestResetGuildClearsEverything(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Enable(ctx, "g1", nil); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := cache.SetLimit(ctx, "g1", guard.ActionBanMember, 3, 10*time.Second); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if err := cache.SetPunishment(ctx, "g1", guard.ActionBanMember, guard.PunishKick, 0); err != nil {
		t.Fatalf("set punishment: %v", err)
	}

	if err := cache.ResetGuild(ctx, "g1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, present, _ := cache.GetConfiguration(ctx, "g1"); present {
		t.Fatalf("expected configuration gone")
	}
	if _, ok := cache.GetLimit(ctx, "g1", guard.ActionBanMember); ok {
		t.Fatalf("expected limit gone")
	}
	if _, ok := cache.GetPunishment(ctx, "g1", guard.ActionBanMember); ok {
		t.Fatalf("expected punishment gone")
	}
}
