package enforcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warden/internal/audit"
	"warden/internal/confcache"
	"warden/internal/guard"
	"warden/internal/ratelimit"
	"warden/internal/storage"

	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type call struct {
	kind   string
	target string
}

type fakeSurface struct {
	mu      sync.Mutex
	botID   string
	owner   string
	ranks   map[string]int
	roles   map[string][]string
	admins  map[string]bool
	perms   map[string]int64
	failBan bool
	failFor map[string]bool
	calls   []call
	block   chan struct{}
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		botID:   "bot",
		owner:   "owner",
		ranks:   map[string]int{"bot": 10},
		roles:   map[string][]string{},
		admins:  map[string]bool{},
		perms:   map[string]int64{},
		failFor: map[string]bool{},
	}
}

func (s *fakeSurface) record(kind, target string) {
	s.mu.Lock()
	s.calls = append(s.calls, call{kind: kind, target: target})
	s.mu.Unlock()
}

func (s *fakeSurface) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (s *fakeSurface) BotID() string { return s.botID }

func (s *fakeSurface) OwnerID(guildID string) (string, error) { return s.owner, nil }

func (s *fakeSurface) TopRolePosition(guildID, userID string) (int, error) {
	return s.ranks[userID], nil
}

func (s *fakeSurface) Ban(guildID, userID, reason string) error {
	if s.block != nil {
		<-s.block
	}
	if s.failBan {
		return errors.New("missing permission")
	}
	s.record("ban", userID)
	return nil
}

func (s *fakeSurface) Kick(guildID, userID, reason string) error {
	s.record("kick", userID)
	return nil
}

func (s *fakeSurface) Timeout(guildID, userID string, until time.Time, reason string) error {
	s.record("timeout", userID)
	return nil
}

func (s *fakeSurface) DeleteChannel(guildID, channelID, reason string) error {
	if s.failFor[channelID] {
		return errors.New("channel gone")
	}
	s.record("delete_channel", channelID)
	return nil
}

func (s *fakeSurface) DeleteRole(guildID, roleID, reason string) error {
	s.record("delete_role", roleID)
	return nil
}

func (s *fakeSurface) RolePermissions(guildID, roleID string) (int64, error) {
	return s.perms[roleID], nil
}

func (s *fakeSurface) SetRolePermissions(guildID, roleID string, permissions int64, reason string) error {
	s.mu.Lock()
	s.perms[roleID] = permissions
	s.mu.Unlock()
	s.record("set_permissions", roleID)
	return nil
}

func (s *fakeSurface) MemberRoles(guildID, userID string) ([]string, error) {
	return s.roles[userID], nil
}

func (s *fakeSurface) RoleHasAdmin(guildID, roleID string) (bool, error) {
	return s.admins[roleID], nil
}

func (s *fakeSurface) RemoveRole(guildID, userID, roleID, reason string) error {
	s.record("remove_role", roleID)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	notices   []Notice
	summaries []ReversionSummary
}

func (n *fakeNotifier) PunishmentApplied(ctx context.Context, notice Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *fakeNotifier) ActionsReverted(ctx context.Context, summary ReversionSummary) {
	n.mu.Lock()
	n.summaries = append(n.summaries, summary)
	n.mu.Unlock()
}

type harness struct {
	enforcer *Enforcer
	cache    *confcache.Cache
	limiter  *ratelimit.Limiter
	store    *storage.Store
	surface  *fakeSurface
	notifier *fakeNotifier
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	cache := confcache.New(store, logger)
	limiter := ratelimit.New(cache, store, logger)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	limiter.WithClock(clock)

	surface := newFakeSurface()
	auditor := audit.NewLogger(store, logger)
	enforcer := New(cache, limiter, store, surface, auditor, logger)
	enforcer.WithClock(clock)
	notifier := &fakeNotifier{}
	enforcer.SetNotifier(notifier)

	return &harness{enforcer: enforcer, cache: cache, limiter: limiter, store: store, surface: surface, notifier: notifier, clock: clock}
}

func breachEvent(actorID string, action guard.Action) guard.SecurityEvent {
	return guard.SecurityEvent{
		ID:           "evt-1",
		GuildID:      "g1",
		ActorID:      actorID,
		Action:       action,
		TargetID:     "target",
		AuditEntryID: "a1",
	}
}

func breachResult() ratelimit.Result {
	return ratelimit.Result{Count: 4, Limit: 3, HasLimit: true, Exceeded: true}
}

func TestDefaultPunishmentIsBan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())

	if h.surface.count("ban") != 1 {
		t.Fatalf("expected 1 ban, got %d", h.surface.count("ban"))
	}
	if len(h.notifier.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(h.notifier.notices))
	}
	notice := h.notifier.notices[0]
	if notice.Punishment != guard.PunishBan || notice.CaseNumber != 1 {
		t.Fatalf("unexpected notice: %+v", notice)
	}

	cases, err := h.store.ListCases(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list cases: %v", err)
	}
	if len(cases) != 1 || cases[0].TargetID != "u1" || cases[0].Punishment != "ban" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
}

func TestConfiguredTimeoutApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.cache.SetPunishment(ctx, "g1", guard.ActionBanMember, guard.PunishTimeout, time.Hour); err != nil {
		t.Fatalf("set punishment: %v", err)
	}

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionBanMember), breachResult())

	if h.surface.count("timeout") != 1 || h.surface.count("ban") != 0 {
		t.Fatalf("expected timeout only, calls: %+v", h.surface.calls)
	}
}

func TestOwnerIsNeverPunished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enforcer.Execute(ctx, breachEvent("owner", guard.ActionCreateChannel), breachResult())

	if len(h.surface.calls) != 0 {
		t.Fatalf("expected no surface calls, got %+v", h.surface.calls)
	}
	logs, err := h.store.ListAuditLogs(ctx, "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) == 0 || logs[0].Event != "enforcement_aborted" {
		t.Fatalf("expected abort logged, got %+v", logs)
	}
}

func TestBotIsNeverPunished(t *testing.T) {
	h := newHarness(t)

	h.enforcer.Execute(context.Background(), breachEvent("bot", guard.ActionCreateChannel), breachResult())

	if len(h.surface.calls) != 0 {
		t.Fatalf("expected no surface calls, got %+v", h.surface.calls)
	}
}

func TestHierarchyAbortsEnforcement(t *testing.T) {
	h := newHarness(t)
	h.surface.ranks["u1"] = 10

	h.enforcer.Execute(context.Background(), breachEvent("u1", guard.ActionCreateChannel), breachResult())

	if len(h.surface.calls) != 0 {
		t.Fatalf("expected abort when actor outranks bot, got %+v", h.surface.calls)
	}
}

func TestPunishmentFailureSkipsCaseAndReversion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.surface.failBan = true

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())

	if len(h.notifier.notices) != 0 {
		t.Fatalf("expected no notice after failed punishment")
	}
	cases, _ := h.store.ListCases(ctx, "g1", 10)
	if len(cases) != 0 {
		t.Fatalf("expected no case after failed punishment, got %+v", cases)
	}
	if h.surface.count("delete_channel") != 0 {
		t.Fatalf("expected no reversion after failed punishment")
	}
}

func TestChannelCreationsRevertedIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.now

	for i := 1; i <= 4; i++ {
		record := storage.ActionRecord{
			ID:        fmt.Sprintf("e%d", i),
			GuildID:   "g1",
			ActorID:   "u1",
			Action:    string(guard.ActionCreateChannel),
			TargetID:  fmt.Sprintf("c%d", i),
			CreatedAt: now.Add(-time.Duration(i) * time.Second),
		}
		if err := h.store.AppendAction(ctx, record); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// One created channel outside the lookback stays untouched.
	old := storage.ActionRecord{ID: "e9", GuildID: "g1", ActorID: "u1", Action: string(guard.ActionCreateChannel), TargetID: "c9", CreatedAt: now.Add(-2 * time.Minute)}
	if err := h.store.AppendAction(ctx, old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	h.surface.failFor["c2"] = true

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())

	if h.surface.count("delete_channel") != 3 {
		t.Fatalf("expected 3 deletions, got %d (calls %+v)", h.surface.count("delete_channel"), h.surface.calls)
	}
	if len(h.notifier.summaries) != 1 {
		t.Fatalf("expected 1 reversion summary, got %d", len(h.notifier.summaries))
	}
	summary := h.notifier.summaries[0]
	if summary.Attempted != 4 || summary.Reverted != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestIrreversibleActionsProduceNoReversionReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		record := storage.ActionRecord{
			ID:        fmt.Sprintf("e%d", i),
			GuildID:   "g1",
			ActorID:   "u1",
			Action:    string(guard.ActionBanMember),
			TargetID:  fmt.Sprintf("m%d", i),
			CreatedAt: h.clock.now.Add(-time.Duration(i) * time.Second),
		}
		if err := h.store.AppendAction(ctx, record); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionBanMember), breachResult())

	// Only the punishment ban; the banned members are not touched.
	if h.surface.count("ban") != 1 {
		t.Fatalf("expected only the punishment ban, got %d", h.surface.count("ban"))
	}
	if len(h.notifier.summaries) != 0 {
		t.Fatalf("expected no reversion summary for irreversible actions, got %+v", h.notifier.summaries)
	}
	logs, err := h.store.ListAuditLogs(ctx, "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	for _, entry := range logs {
		if entry.Event == "actions_reverted" {
			t.Fatalf("expected no reversion audit entry, got %+v", entry)
		}
	}
}

func TestDangerousPermissionGrantStripped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.surface.perms["r1"] = guard.DangerousPermissions | 1<<6
	record := storage.ActionRecord{
		ID:        "e1",
		GuildID:   "g1",
		ActorID:   "u1",
		Action:    string(guard.ActionGrantDangerousPermission),
		TargetID:  "r1",
		CreatedAt: h.clock.now.Add(-time.Second),
	}
	if err := h.store.AppendAction(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionGrantDangerousPermission), breachResult())

	if h.surface.count("set_permissions") != 1 {
		t.Fatalf("expected permissions rewritten once")
	}
	if h.surface.perms["r1"]&guard.DangerousPermissions != 0 {
		t.Fatalf("expected dangerous bits stripped, got %d", h.surface.perms["r1"])
	}
	if h.surface.perms["r1"]&(1<<6) == 0 {
		t.Fatalf("expected benign bits preserved")
	}
}

func TestAdminRoleGrantRevertedFromActor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.surface.roles["u1"] = []string{"rplain", "radmin"}
	h.surface.admins["radmin"] = true
	record := storage.ActionRecord{
		ID:        "e1",
		GuildID:   "g1",
		ActorID:   "u1",
		Action:    string(guard.ActionGrantAdminRole),
		TargetID:  "victim",
		CreatedAt: h.clock.now.Add(-time.Second),
	}
	if err := h.store.AppendAction(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionGrantAdminRole), breachResult())

	if h.surface.count("remove_role") != 1 {
		t.Fatalf("expected 1 role removal, got %d", h.surface.count("remove_role"))
	}
	h.surface.mu.Lock()
	defer h.surface.mu.Unlock()
	for _, c := range h.surface.calls {
		if c.kind == "remove_role" && c.target != "radmin" {
			t.Fatalf("expected only the admin role removed, got %s", c.target)
		}
	}
}

func TestAddedBotIsBannedOnRevert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	record := storage.ActionRecord{
		ID:        "e1",
		GuildID:   "g1",
		ActorID:   "u1",
		Action:    string(guard.ActionAddBot),
		TargetID:  "intruder-bot",
		CreatedAt: h.clock.now.Add(-time.Second),
	}
	if err := h.store.AppendAction(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionAddBot), breachResult())

	// One ban for the actor, one for the intruding bot.
	if h.surface.count("ban") != 2 {
		t.Fatalf("expected 2 bans, got %d", h.surface.count("ban"))
	}
}

func TestOverlappingBreachIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.surface.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())
		close(done)
	}()

	// Wait for the first execution to reach the blocked ban call, then fire
	// the overlapping breach; it must drop without touching the surface.
	time.Sleep(50 * time.Millisecond)
	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())

	close(h.surface.block)
	<-done

	if h.surface.count("ban") != 1 {
		t.Fatalf("expected single ban, got %d", h.surface.count("ban"))
	}
	if len(h.notifier.notices) != 1 {
		t.Fatalf("expected single notice, got %d", len(h.notifier.notices))
	}

	// After release a later breach enforces again.
	h.surface.block = nil
	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())
	if h.surface.count("ban") != 2 {
		t.Fatalf("expected lock released, got %d bans", h.surface.count("ban"))
	}
}

func TestCaseNumbersIncrementAcrossBreaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.enforcer.Execute(ctx, breachEvent("u1", guard.ActionCreateChannel), breachResult())
	h.enforcer.Execute(ctx, breachEvent("u2", guard.ActionCreateChannel), breachResult())

	if len(h.notifier.notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(h.notifier.notices))
	}
	if h.notifier.notices[0].CaseNumber != 1 || h.notifier.notices[1].CaseNumber != 2 {
		t.Fatalf("unexpected case numbers: %+v", h.notifier.notices)
	}
}
